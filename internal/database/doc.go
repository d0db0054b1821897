// Package database manages the optional PostgreSQL pool backing the
// console's event journal.
//
// The journal is a single append-only table, console_events, holding one
// row per pushed task update or log line. EnsureSchema creates it on
// startup so a fresh database needs no migration step.
package database
