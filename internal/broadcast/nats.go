package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

const natsSubjectPrefix = "wishlist.stats."

// NATSRelay relays stats events over core NATS subjects. Shop domains
// contain dots, so subscribers use the ">" wildcard.
type NATSRelay struct {
	conn    *nats.Conn
	logger  *slog.Logger
	metrics *Metrics
}

var _ Relay = (*NATSRelay)(nil)

// ConnectNATS dials url with unlimited reconnects.
func ConnectNATS(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

// NewNATSRelay creates a relay that owns conn and drains it on Close.
func NewNATSRelay(conn *nats.Conn, metrics *Metrics, logger *slog.Logger) *NATSRelay {
	return &NATSRelay{conn: conn, logger: logger, metrics: metrics}
}

// NATSSubject returns the subject for shop.
func NATSSubject(shop string) string {
	return natsSubjectPrefix + shop
}

// Publish sends msg on the shop's subject. Core NATS buffers the message
// while reconnecting, so ctx only bounds the encoding step.
func (n *NATSRelay) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if err := n.conn.Publish(NATSSubject(msg.Aggregate.Shop), payload); err != nil {
		return fmt.Errorf("nats relay publish: %w", err)
	}
	return nil
}

// Subscribe listens on every shop subject until ctx ends.
func (n *NATSRelay) Subscribe(ctx context.Context, deliver func(Message)) error {
	sub, err := n.conn.Subscribe(natsSubjectPrefix+">", func(m *nats.Msg) {
		msg, err := decodeMessage(m.Data)
		if err != nil {
			n.logger.Warn("dropping malformed relay message",
				slog.String("subject", m.Subject),
				slog.String("error", err.Error()),
			)
			return
		}
		deliver(msg)
	})
	if err != nil {
		n.metrics.relayFailure("subscribe")
		return fmt.Errorf("nats relay subscribe: %w", err)
	}

	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && n.conn.IsConnected() {
		n.logger.Warn("nats relay unsubscribe failed", slog.String("error", err.Error()))
	}
	return nil
}

// Close drains the connection.
func (n *NATSRelay) Close() error {
	if n.conn == nil || n.conn.IsClosed() {
		return nil
	}
	return n.conn.Drain()
}
