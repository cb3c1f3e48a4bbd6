package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/luxsuv-signup/pkg/logger"
	"github.com/nats-io/nats.go"
)

// Publisher emits registration events. Publishing is best effort: callers
// log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("luxsuv-signup"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSPublisher{conn: conn}, nil
}

func (n *NATSPublisher) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject)

	return n.conn.Publish(subject, payload)
}

// Close flushes pending events before closing the connection.
func (n *NATSPublisher) Close() error {
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

// NopPublisher drops every event. Used when NATS is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }
func (NopPublisher) Close() error                                      { return nil }

// Event subjects
const (
	RegistrationCodeSent  = "registration.code.sent"
	RegistrationCompleted = "registration.completed"
	RegistrationAbandoned = "registration.abandoned"
)

// Event payloads
type RegistrationCodeSentEvent struct {
	SessionID string    `json:"session_id"`
	Email     string    `json:"email"`
	Resend    bool      `json:"resend"`
	SentAt    time.Time `json:"sent_at"`
}

type RegistrationCompletedEvent struct {
	UserID      int64     `json:"user_id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	CompletedAt time.Time `json:"completed_at"`
}

type RegistrationAbandonedEvent struct {
	SessionID   string    `json:"session_id"`
	Stage       string    `json:"stage"`
	AbandonedAt time.Time `json:"abandoned_at"`
}
