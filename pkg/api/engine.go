package api

import (
	"context"
)

// Engine is the workflow state machine. All methods are safe for
// concurrent use.
type Engine interface {
	// RingBell ingests a sensor trigger: it creates an INITIATED instance and
	// sends the claim/dismiss prompt, noting who last handled the event today.
	RingBell(ctx context.Context) (*Instance, error)

	// Claim moves the INITIATED instance attached to correlationID to CLAIMED
	// and arms its follow-up survey.
	Claim(ctx context.Context, correlationID string, user User) (*Instance, error)

	// ClaimManual creates an instance directly in CLAIMED for a claim issued
	// without a prior prompt, and arms its follow-up survey.
	ClaimManual(ctx context.Context, user User) (*Instance, error)

	// SendSurvey is the follow-up: it moves a CLAIMED instance to SURVEYED
	// and sends the outcome survey. An instance that is missing or already
	// past CLAIMED is skipped and (nil, nil) is returned.
	SendSurvey(ctx context.Context, f FollowUp) (*Instance, error)

	// Dismiss moves the INITIATED instance with the given ledger id to DISMISSED.
	Dismiss(ctx context.Context, id int64, user User) (*Instance, error)

	// RecordOutcome completes a SURVEYED instance with the chosen result.
	RecordOutcome(ctx context.Context, answer SurveyAnswer) (*Instance, error)

	// Report aggregates today's ledger rows.
	Report(ctx context.Context) (*Report, error)

	// Close cancels every pending follow-up.
	Close() error
}

// FollowUp is the payload of an armed survey timer.
type FollowUp struct {
	CorrelationID string
	User          User
}

// SurveyAnswer is a user's reply to an outcome survey.
type SurveyAnswer struct {
	// CorrelationID routes the answer to the claimed instance.
	CorrelationID string
	// Code is the raw outcome code; see ParseResult.
	Code string
	User User
	// PromptID is the survey message itself, deleted once the answer is recorded.
	PromptID string
}
