package broadcast

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/utafrali/wishlist-sync/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// Source hands out stats subscriptions.
type Source interface {
	Subscribe(shop string) *Subscription
	Unsubscribe(s *Subscription)
}

// Streamer serves a shop's stats over a WebSocket: a snapshot first, then
// every published aggregate as a JSON text frame.
type Streamer struct {
	source     Source
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	pingPeriod time.Duration
	pongWait   time.Duration
}

// NewStreamer creates a streamer. checkOrigin vets the Origin header of the
// upgrade request; nil keeps gorilla's same-origin rule.
func NewStreamer(source Source, checkOrigin func(*http.Request) bool, logger *slog.Logger) *Streamer {
	return &Streamer{
		source: source,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		logger:     logger,
		pingPeriod: pingPeriod,
		pongWait:   pongWait,
	}
}

// Serve upgrades the request and streams until the peer disconnects, a
// write fails, or the subscription ends. The subscription is taken before
// the snapshot is read so no change between the two is lost.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, shop string, snapshot func(context.Context) domain.ShopAggregate) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.logger.WarnContext(r.Context(), "websocket upgrade failed",
			slog.String("shop", shop),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	sub := s.source.Subscribe(shop)
	defer s.source.Unsubscribe(sub)

	s.logger.InfoContext(r.Context(), "stats stream opened", slog.String("shop", shop))
	defer s.logger.InfoContext(r.Context(), "stats stream closed", slog.String("shop", shop))

	done := make(chan struct{})
	go s.readPump(conn, done)

	if err := s.write(conn, snapshot(r.Context())); err != nil {
		return
	}
	s.writePump(conn, sub, done)
}

// readPump discards client frames and keeps the read deadline alive on pong.
func (s *Streamer) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Streamer) writePump(conn *websocket.Conn, sub *Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case agg, ok := <-sub.C():
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
				return
			}
			if err := s.write(conn, agg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Streamer) write(conn *websocket.Conn, agg domain.ShopAggregate) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(agg)
}
