// Package api contains the contract of the bell workflow engine: the
// instance model, the state transition table, the error taxonomy and the
// interfaces the engine uses to talk to its collaborators.
//
// Most callers interact with the higher-level bellbot package, which
// re-exports selected types from this package and provides engine
// constructors. The api package is useful for custom transports and for
// code that needs to classify errors returned by the engine.
//
// # Instances
//
// An Instance is one occurrence of the tracked event, from trigger to a
// terminal state. Instances move through
//
//	INITIATED -> CLAIMED -> SURVEYED -> COMPLETED
//
// with a side branch INITIATED -> DISMISSED. The allowed edges live in a
// single table consulted through Next; any other (state, action) pair is
// rejected with a *TransitionError.
//
// # Collaborators
//
// The engine never formats chat messages or speaks a wire protocol itself.
// It calls a Messenger to send prompts and notices, and an optional Notifier
// to publish "claimed" notifications. Lifecycle events are reported to an
// Observer; LoggingObserver writes them with log/slog and observers can be
// combined with NewCompositeObserver.
package api
