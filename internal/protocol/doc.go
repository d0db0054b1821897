// Package protocol defines the wire envelope exchanged over the console's
// realtime channel.
//
// Every frame is a single JSON object carrying at least a "type" string.
// Fields other than "type" are not validated: they are passed through to
// consumers untouched and read on demand with gjson paths.
//
// Outbound envelopes built by this package always carry "type" and a
// "timestamp" in Unix milliseconds.
package protocol
