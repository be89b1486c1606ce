// Package history keeps a local audit trail of supervisor transitions in
// SQLite, so the outcome of earlier runs survives a restart of the
// supervisor itself.
//
// The schema lives in the migrations package (table supervisor_events).
// Rows are written asynchronously through the reporting dispatcher and pruned
// at startup according to database.retention_days.
package history
