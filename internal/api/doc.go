// Package api is the HTTP client for the console backend.
//
// Endpoints:
//   - POST /api/tasks               create a crawl, generate or tag job
//   - GET  /api/tasks/{id}          one job
//   - GET  /api/tasks               jobs, filtered by status and kind
//   - POST /api/tasks/{id}/cancel   cancel a job
//   - GET  /api/config              backend configuration
//   - GET  /api/history             journal of past jobs
//
// Live progress is not polled here; it arrives as task_update pushes over
// the realtime session.
package api
