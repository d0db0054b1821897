// Package poller keeps job status fresh when pushes alone are not enough.
//
// Every interval the poller:
//   - asks the server, over the session, to push system_status and a
//     task_update for every active job
//   - when the session is down, fetches active jobs over HTTP instead,
//     with bounded concurrency, and feeds the results to the tracker
package poller
