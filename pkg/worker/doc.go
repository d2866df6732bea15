// Package worker drives the engine from the inbound task queue.
//
// Transports never call the engine directly. They enqueue tasks (a bell
// trigger, a claim, a dismiss, a survey answer, a report request) and one or
// more workers dequeue them and invoke the matching engine operation.
//
// # Failure handling
//
// The worker is also where engine errors are turned into chat feedback:
//
//   - A reference to an instance that does not exist is logged. A claim tap
//     on a prompt whose id is not stored yet also asks the user to retry.
//   - A rejected transition or an unknown outcome code gets a short notice.
//   - Ledger and transport failures get a visible failure notice.
//
// Nothing a task does stops the worker; it keeps serving later tasks. A
// failed dequeue is logged and retried after Config.RetryDelay.
//
// # Concurrency
//
// Run starts Config.Concurrency goroutines over the same queue. The engine
// serializes conflicting transitions in the ledger, so tasks for one
// instance may safely be processed in parallel.
package worker
