// Package bellbot tracks a recurring household event, the dog ringing the
// bell to go out, from detection through claim, a delayed follow-up survey
// and outcome recording, and reports on the day's history.
//
// # Core Concepts
//
//  1. Instance
//  2. Engine
//  3. Ledger
//  4. Follow-up scheduler
//  5. Runner
//
// # Instance
//
// Every occurrence is one Instance row. It moves through a fixed set of
// states:
//
//	INITIATED --claim--> CLAIMED --follow-up--> SURVEYED --outcome--> COMPLETED
//	    |
//	    +--dismiss--> DISMISSED
//
// A claim issued without a prompt (the /take command) creates an instance
// directly in CLAIMED. COMPLETED and DISMISSED are terminal.
//
// # Engine
//
// The Engine applies actions to instances and talks to the outside world
// through two collaborators:
//
//   - a Messenger, the chat transport that sends prompts and surveys
//   - a Notifier, the pub/sub transport that announces claims
//
// Every transition is validated against the transition table and committed
// in a single ledger transaction, so concurrent claims on one prompt cannot
// both succeed.
//
// Engines can be backed by different ledgers:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//
// # Follow-up scheduler
//
// A successful claim arms a timer keyed by the prompt. When it fires the
// engine moves the instance to SURVEYED and asks the claimant what happened.
// Claiming the same prompt again replaces the pending timer, and recording
// an outcome cancels it.
//
// # Runner
//
// Transports never call the Engine directly. They enqueue tasks, and a Worker
// dequeues them and turns engine errors into short chat notices. Runner
// bundles an Engine, a queue and a Worker; NewLocalRunner gives a fully
// in-memory setup for development:
//
//	runner, err := bellbot.NewLocalRunner(bellbot.Config{Messenger: chat})
//	if err != nil {
//		return err
//	}
//	if err := runner.StartWorkers(ctx, 2); err != nil {
//		return err
//	}
//	defer runner.Stop()
//
//	_ = runner.Worker.EnqueueRing(ctx)
//
// # Observability
//
// Engines report transitions and failures to an Observer. LoggingObserver
// writes structured slog records, BasicMetrics keeps in-process counters, and
// NewCompositeObserver fans events out to several observers. The bellbot
// command adds a Prometheus observer.
package bellbot
