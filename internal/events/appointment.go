// Package events publishes appointment changes for downstream consumers
// such as reminder and notification services.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// AppointmentChangedV1 is emitted after a mutating operation succeeds.
type AppointmentChangedV1 struct {
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	UserID     string            `json:"user_id"`
	Operation  string            `json:"operation"`
	Arguments  map[string]string `json:"arguments"`
	Result     []string          `json:"result,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewAppointmentChanged builds an event of type appointment.<operation>.
func NewAppointmentChanged(userID, operation string, args map[string]string, result []string) AppointmentChangedV1 {
	return AppointmentChangedV1{
		EventID:    uuid.NewString(),
		Type:       "appointment." + strings.ToLower(operation),
		UserID:     userID,
		Operation:  operation,
		Arguments:  args,
		Result:     result,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers appointment events. Delivery is best effort.
type Publisher interface {
	PublishAppointment(ctx context.Context, evt AppointmentChangedV1) error
}

// MemoryPublisher records events in process.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []AppointmentChangedV1
}

func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{}
}

func (p *MemoryPublisher) PublishAppointment(_ context.Context, evt AppointmentChangedV1) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []AppointmentChangedV1 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]AppointmentChangedV1, len(p.events))
	copy(out, p.events)
	return out
}
