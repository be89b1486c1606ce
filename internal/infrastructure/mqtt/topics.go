package mqtt

import "fmt"

// TopicPrefixSupervisor is the base for all supervisor topics.
const TopicPrefixSupervisor = "graylogic/supervisor"

// Topics provides builders for supervisor MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Status("api") // "graylogic/supervisor/api/status"
type Topics struct{}

// Status is the retained status of one supervisor.
//
// Example: graylogic/supervisor/api/status
func (Topics) Status(name string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixSupervisor, name)
}

// Events carries one message per lifecycle transition.
//
// Example: graylogic/supervisor/api/events
func (Topics) Events(name string) string {
	return fmt.Sprintf("%s/%s/events", TopicPrefixSupervisor, name)
}

// Command receives remote instructions for one supervisor.
//
// Example: graylogic/supervisor/api/command
func (Topics) Command(name string) string {
	return fmt.Sprintf("%s/%s/command", TopicPrefixSupervisor, name)
}
