// Package reporting delivers supervisor transitions to slow or fallible
// destinations without stalling supervision.
//
// The supervisor calls observers synchronously from its run loop. Anything
// that does I/O (SQLite history, MQTT, InfluxDB) is registered as a Sink on a
// Dispatcher instead, which queues transitions and hands them to the sinks
// from one worker goroutine. A full queue drops rather than blocks.
//
// Sink failures are logged and counted; they never reach the supervisor.
package reporting
