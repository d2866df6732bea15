package api

import (
	"context"
	"time"
)

// LastHandled is the informational note attached to a bell prompt.
type LastHandled struct {
	By string
	At time.Time
}

// BellPrompt asks the chat to claim or dismiss a freshly triggered instance.
type BellPrompt struct {
	InstanceID  int64
	LastHandled *LastHandled
}

// SurveyPrompt asks the claimant for the outcome.
type SurveyPrompt struct {
	CorrelationID string
	User          User
}

// Messenger is the chat transport. Methods returning a string return the
// identifier of the message they sent.
type Messenger interface {
	SendBellPrompt(ctx context.Context, p BellPrompt) (string, error)
	SendClaimConfirmation(ctx context.Context, user User) (string, error)
	MarkClaimed(ctx context.Context, correlationID string, user User) error
	SendSurvey(ctx context.Context, p SurveyPrompt) (string, error)
	DeletePrompt(ctx context.Context, promptID string) error
	SendNotice(ctx context.Context, text string) error
	SendReport(ctx context.Context, r *Report) error
}

// Default pub/sub topics.
const (
	// DefaultBellTopic carries the sensor's bell presses.
	DefaultBellTopic = "sherangthebell/bell"
	// DefaultClaimedTopic is where the claimant's name is published.
	DefaultClaimedTopic = "sherangthebell/take"
	// DefaultStatusTopic carries the sensor's online/offline announcements.
	DefaultStatusTopic = "sherangthebell/status"
)

// Notifier publishes outward notifications on the pub/sub transport.
type Notifier interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// NoopNotifier discards every notification.
type NoopNotifier struct{}

func (NoopNotifier) Publish(ctx context.Context, topic string, payload []byte) error { return nil }
