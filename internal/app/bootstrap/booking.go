package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/patientpal/internal/booking"
	appconfig "github.com/wolfman30/patientpal/internal/config"
	"github.com/wolfman30/patientpal/internal/events"
	"github.com/wolfman30/patientpal/internal/observability/metrics"
	"github.com/wolfman30/patientpal/internal/operations"
)

// BuildBookingProvider returns the appointment system selected by
// BOOKING_PROVIDER.
func BuildBookingProvider(cfg *appconfig.Config) (booking.Provider, error) {
	switch cfg.BookingProvider {
	case "", "memory":
		return booking.NewMemoryBook(), nil
	case "gbooking":
		return booking.NewGBookingClient(booking.GBookingConfig{
			URL:        cfg.GBookingURL,
			CracURL:    cfg.GBookingCracURL,
			User:       cfg.GBookingUser,
			Token:      cfg.GBookingToken,
			BusinessID: cfg.GBookingBusinessID,
		})
	default:
		return nil, fmt.Errorf("bootstrap: unknown booking provider %q", cfg.BookingProvider)
	}
}

// BuildLedger keeps dispatch records in Postgres when DATABASE_URL is set
// and in memory otherwise.
func BuildLedger(ctx context.Context, cfg *appconfig.Config, rt *Runtime) (booking.Ledger, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		rt.Logger.Warn("using in-memory dispatch ledger; retries after restart are not deduplicated")
		return booking.NewMemoryLedger(), nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: open ledger pool: %w", err)
	}
	rt.addCheck("ledger", pool.Ping)
	rt.addCloser(pool.Close)
	return booking.NewPostgresLedger(pool), nil
}

// BuildPublisher connects to NATS when NATS_URL is set. Without it events
// are dropped.
func BuildPublisher(cfg *appconfig.Config, rt *Runtime) (events.Publisher, error) {
	if strings.TrimSpace(cfg.NATSURL) == "" {
		return nil, nil
	}
	publisher, err := events.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, rt.Logger)
	if err != nil {
		return nil, err
	}
	rt.addCloser(publisher.Close)
	return publisher, nil
}

// BuildBookingAdapter wires provider, ledger and event publisher behind the
// adapter the session manager dispatches to.
func BuildBookingAdapter(ctx context.Context, cfg *appconfig.Config, registry *operations.Registry, cm *metrics.ChatMetrics, rt *Runtime) (*booking.Adapter, error) {
	provider, err := BuildBookingProvider(cfg)
	if err != nil {
		return nil, err
	}
	ledger, err := BuildLedger(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	opts := []booking.AdapterOption{
		booking.WithLedger(ledger),
		booking.WithMetrics(cm),
		booking.WithTimeout(cfg.BackendTimeout),
		booking.WithLogger(rt.Logger),
	}
	publisher, err := BuildPublisher(cfg, rt)
	if err != nil {
		return nil, err
	}
	if publisher != nil {
		opts = append(opts, booking.WithPublisher(publisher))
	}
	rt.Logger.Info("booking provider ready", "provider", provider.Name())
	return booking.NewAdapter(provider, registry, opts...), nil
}
