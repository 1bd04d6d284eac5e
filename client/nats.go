package client

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSInvalidator is an opt-in subscriber that forces an out-of-band
// ruleset refresh when a project-scoped invalidation message arrives,
// cutting the worst-case staleness window below the poll interval for a
// fleet of processes sharing one personal API key. The poller alone
// already keeps rulesets eventually fresh; this is a latency optimization
// layered on top, off by default.
type NATSInvalidator struct {
	sub    *nats.Subscription
	logger zerolog.Logger
}

// NewNATSInvalidator subscribes to subject on nc and triggers
// loader.ForceRefresh on every message. The caller owns nc's lifecycle;
// Close only unsubscribes.
func NewNATSInvalidator(nc *nats.Conn, subject string, client *Client, logger zerolog.Logger) (*NATSInvalidator, error) {
	logger = logger.With().Str("component", "nats-invalidator").Logger()

	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		logger.Info().Str("subject", msg.Subject).Msg("ruleset invalidation received")
		if err := client.RefreshFlags(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("forced ruleset refresh failed")
		}
	})
	if err != nil {
		return nil, err
	}

	return &NATSInvalidator{sub: sub, logger: logger}, nil
}

// Close unsubscribes from the invalidation subject.
func (n *NATSInvalidator) Close() error {
	return n.sub.Unsubscribe()
}
