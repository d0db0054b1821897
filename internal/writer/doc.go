// Package writer journals pushed session events to PostgreSQL.
//
// HistoryWriter subscribes to task_update, log_message and global_log,
// converts each push to a model.HistoryEntry and appends it to the
// console_events table in batches. Handlers never block the session read
// loop: entries go through a bounded Queue and are dropped, and counted,
// once the queue reaches its limit.
package writer
