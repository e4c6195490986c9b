package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/wolfman30/patientpal/pkg/logging"
)

type natsConn interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events on <prefix>.<event type>, for example
// patientpal.appointment.create_appointment.
type NATSPublisher struct {
	conn   natsConn
	closer func()
	prefix string
	logger *logging.Logger
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url, prefix string, logger *logging.Logger) (*NATSPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("events: nats url is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("patientpal-api"),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("events: connect nats: %w", err)
	}
	logger.Info("events: connected to nats", "url", conn.ConnectedUrl())
	p := newNATSPublisher(conn, prefix, logger)
	p.closer = conn.Close
	return p, nil
}

func newNATSPublisher(conn natsConn, prefix string, logger *logging.Logger) *NATSPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &NATSPublisher{conn: conn, prefix: strings.Trim(prefix, "."), logger: logger}
}

func (p *NATSPublisher) PublishAppointment(ctx context.Context, evt AppointmentChangedV1) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}
	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("events: publish %s: %w", subject, err)
	}
	p.logger.Debug("events: published", "subject", subject, "event_id", evt.EventID)
	return nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(eventType string) string {
	if p.prefix == "" {
		return eventType
	}
	return p.prefix + "." + eventType
}

func (p *NATSPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}
