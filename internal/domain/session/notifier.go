package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Notification is a message sent on behalf of an authenticated principal.
type Notification struct {
	ID        uuid.UUID `json:"id"`
	Sender    string    `json:"sender"`
	SenderID  int64     `json:"senderId"`
	Recipient string    `json:"recipient"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// Notifier delivers notifications. Implementations must be safe for
// concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "notifier").Logger()}
}

func (l *LogNotifier) Notify(_ context.Context, n *Notification) error {
	l.logger.Info().
		Str("notification_id", n.ID.String()).
		Str("sender", n.Sender).
		Int64("sender_id", n.SenderID).
		Str("recipient", n.Recipient).
		Str("subject", n.Subject).
		Msg("notification dispatched")
	return nil
}
