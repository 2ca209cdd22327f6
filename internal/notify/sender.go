// Package notify delivers user notices and turns waitlist events into background jobs.
package notify

import (
	"context"
	"errors"

	"studiobook/internal/models"

	"github.com/rs/zerolog"
)

// ErrNoAddress means the sender has no way to reach the user.
var ErrNoAddress = errors.New("user has no address for this channel")

// Sender delivers a single notice to a user.
type Sender interface {
	Send(ctx context.Context, user *models.User, subject, body string) error
}

// LogSender writes notices to the log. It never fails.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, user *models.User, subject, body string) error {
	s.logger.Info().Int64("user_id", user.ID).Str("subject", subject).Str("body", body).Msg("notice")
	return nil
}

// Router tries Telegram, then email, then the fallback.
type Router struct {
	telegram Sender
	email    Sender
	fallback Sender
}

// NewRouter builds a Router. Nil channels are skipped.
func NewRouter(telegram, email, fallback Sender) *Router {
	return &Router{telegram: telegram, email: email, fallback: fallback}
}

func (r *Router) Send(ctx context.Context, user *models.User, subject, body string) error {
	switch {
	case r.telegram != nil && user.TelegramID != 0:
		return r.telegram.Send(ctx, user, subject, body)
	case r.email != nil && user.Email != "":
		return r.email.Send(ctx, user, subject, body)
	case r.fallback != nil:
		return r.fallback.Send(ctx, user, subject, body)
	default:
		return ErrNoAddress
	}
}
