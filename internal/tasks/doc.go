// Package tasks keeps the console's view of running jobs.
//
// The Tracker is fed by task_update pushes from the realtime session and
// seeded or reconciled from the HTTP API with Sync. Consumers either read
// snapshots (Get, Active), follow the Changes channel, or block in Wait
// until a job reaches a terminal status:
//
//	task, _ := client.CreateTask(ctx, model.KindGenerate, params)
//	tracker.Track(*task)
//	done, err := tracker.Wait(ctx, task.ID)
package tasks
