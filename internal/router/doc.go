// Package router dispatches inbound session frames to registered handlers.
//
// The Registry maps a message type to an ordered list of handlers. Every
// decoded frame is passed, as a whole protocol.Envelope, to each handler
// registered for its type, synchronously and in registration order:
//
//	sub := registry.Subscribe(protocol.TypeTaskUpdate, func(env protocol.Envelope) {
//	    fmt.Println(env.TaskID(), env.Get("status").String())
//	})
//	defer sub.Unsubscribe()
//
// Handlers are identified by pointer. Registering the same *Handler twice
// for a type has no effect, and Off removes it by the same pointer.
//
// A handler that panics is recovered and logged; the remaining handlers
// for that frame still run.
//
// requests.go holds the outbound request helpers (get_task_status,
// get_system_status, get_webui_status). They are fire-and-forget: the
// answer arrives later as an ordinary pushed frame.
package router
