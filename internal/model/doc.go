// Package model defines the job and log types shared by the session
// consumers, the HTTP client and the history journal.
//
// Conventions:
//   - Task IDs are opaque strings assigned by the backend
//   - Progress is a percentage in [0, 100]
//   - Timestamps are time.Time; pushed frames may carry Unix seconds,
//     Unix milliseconds or RFC 3339 strings and are normalized on decode
package model
