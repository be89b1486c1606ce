package mqtt

import "errors"

// Sentinel errors; match with errors.Is.
var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")
	ErrInvalidQoS       = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")

	// ErrInvalidCommand is returned for unparseable or unknown remote commands.
	ErrInvalidCommand = errors.New("mqtt: invalid command")

	// ErrRetainedCommand rejects a command the broker replayed from its
	// retained store instead of a live publish.
	ErrRetainedCommand = errors.New("mqtt: retained command ignored")
)
