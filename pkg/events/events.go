package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diagnosis/staybook/pkg/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url, nats.Name("staybook-storefront"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "bytes", len(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(wrap(msg))
	})
	return err
}

func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

func wrap(msg *nats.Msg) *Message {
	return &Message{
		Subject:   msg.Subject,
		Data:      msg.Data,
		Timestamp: time.Now(),
		ID:        uuid.NewString(),
	}
}

// Subjects
const (
	QuoteIssued       = "quote.issued"
	BookingRequested  = "booking.requested"
	BookingTransition = "booking.transition"

	AvailabilityBlocked   = "availability.blocked"
	AvailabilityUnblocked = "availability.unblocked"

	SessionStarted   = "session.started"
	SessionRefreshed = "session.refreshed"
	SessionExpired   = "session.expired"
	SessionLoggedOut = "session.logged_out"
)

type QuoteIssuedEvent struct {
	QuoteID     string    `json:"quote_id"`
	ListingID   string    `json:"listing_id"`
	Nights      int       `json:"nights"`
	TotalAmount int64     `json:"total_amount"`
	Currency    string    `json:"currency"`
	IssuedAt    time.Time `json:"issued_at"`
}

type BookingRequestedEvent struct {
	BookingID   string    `json:"booking_id"`
	ListingID   string    `json:"listing_id"`
	CustomerID  string    `json:"customer_id"`
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	Guests      int       `json:"guests"`
	TotalAmount int64     `json:"total_amount"`
	RequestedAt time.Time `json:"requested_at"`
}

type BookingTransitionEvent struct {
	BookingID string    `json:"booking_id"`
	Action    string    `json:"action"`
	ActorID   string    `json:"actor_id"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type AvailabilityChangedEvent struct {
	ListingID string    `json:"listing_id"`
	StartDate string    `json:"start_date"`
	EndDate   string    `json:"end_date,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	VendorID  string    `json:"vendor_id"`
	At        time.Time `json:"at"`
}

type SessionEvent struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}
