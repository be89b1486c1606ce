package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subscribe registers handler for topic. The subscription is restored after
// a reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	switch {
	case topic == "":
		return ErrInvalidTopic
	case qos > maxQoS:
		return ErrInvalidQoS
	case handler == nil:
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	case !c.IsConnected():
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.deliver(handler))
	var err error
	if !token.WaitTimeout(defaultPublishTimeout) {
		err = fmt.Errorf("timeout after %v", defaultPublishTimeout)
	} else {
		err = token.Error()
	}
	if err != nil {
		c.subMu.Lock()
		delete(c.subscriptions, topic)
		c.subMu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Command is a remote instruction received on the command topic.
type Command struct {
	Command string `json:"command"`
	Reason  string `json:"reason,omitempty"`
}

// CommandShutdown asks the supervisor to stop as if it had received SIGTERM.
const CommandShutdown = "shutdown"

// ParseCommand decodes a command payload. Only CommandShutdown is accepted.
func ParseCommand(payload []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	cmd.Command = strings.ToLower(strings.TrimSpace(cmd.Command))
	if cmd.Command != CommandShutdown {
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, cmd.Command)
	}
	return cmd, nil
}

// OnCommand subscribes to this supervisor's command topic and calls fn for
// every valid live command. Malformed and retained commands are rejected and
// logged.
func (c *Client) OnCommand(fn func(Command)) error {
	return c.Subscribe(c.commandTopic, 1, commandHandler(fn))
}

// commandHandler drops retained commands: the broker replays them on every
// subscribe, so a retained shutdown would stop each new run before its first
// spawn.
func commandHandler(fn func(Command)) MessageHandler {
	return func(msg Message) error {
		if msg.Retained {
			return ErrRetainedCommand
		}
		cmd, err := ParseCommand(msg.Payload)
		if err != nil {
			return err
		}
		fn(cmd)
		return nil
	}
}
