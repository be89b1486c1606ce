// Package mqtt publishes supervisor status and lifecycle events to an MQTT
// broker and receives remote commands.
//
// Topics, under graylogic/supervisor/{name}/:
//
//	status   retained JSON snapshot; last will marks it offline
//	events   one JSON transition per message, not retained
//	command  {"command":"shutdown"} requests a graceful stop; retained
//	         commands are ignored
//
// # Security Considerations
//
//   - Use TLS (cfg.Broker.TLS=true) outside a trusted host
//   - Restrict the command topic with broker ACLs; any client allowed to
//     publish there can stop the worker
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "api")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.PublishStatus(sup.Stats())
package mqtt
