package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/nfrund/topicspace/internal/domain"
	"github.com/nfrund/topicspace/internal/middleware"
	"github.com/nfrund/topicspace/internal/notify"
)

const writeWait = 10 * time.Second

// EventReady is the type of the first frame on the stream, sent once both
// registrations are in place.
const EventReady = "ready"

// EventMessage is one frame on the /events stream.
type EventMessage struct {
	Type  string        `json:"type"`
	Topic *domain.Topic `json:"topic,omitempty"`
}

// events upgrades the request and streams topic additions and removals until
// the client goes away. The registrations live exactly as long as the
// connection.
func (s *Server) events(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		return nil
	}
	defer conn.Close()

	logger := middleware.FromContext(c.Request().Context())
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request().Context()))
	defer cancel()

	added, addedReg, err := s.chat.Watch(ctx, notify.TopicAdded)
	if err != nil {
		logger.Error("Failed to watch added topics", "error", err)
		closeStream(conn)
		return nil
	}
	removed, removedReg, err := s.chat.Watch(ctx, notify.TopicRemoved)
	if err != nil {
		addedReg.Cancel(ctx)
		logger.Error("Failed to watch removed topics", "error", err)
		closeStream(conn)
		return nil
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(EventMessage{Type: EventReady}); err != nil {
		addedReg.Cancel(ctx)
		removedReg.Cancel(ctx)
		return nil
	}
	logger.Info("Event stream opened", "remote", c.RealIP())

	// The read loop only notices the client closing; inbound frames are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Keep both registrations alive for as long as the client stays.
	var renew <-chan time.Time
	if lease := time.Until(addedReg.Expiration()); lease > 0 {
		ticker := time.NewTicker(lease / 2)
		defer ticker.Stop()
		renew = ticker.C
	}
	regs := []*notify.Registration{addedReg, removedReg}

	writeFailed := false
	for added != nil || removed != nil {
		var (
			topic domain.Topic
			class notify.Class
			ok    bool
		)
		select {
		case topic, ok = <-added:
			class = notify.TopicAdded
			if !ok {
				added = nil
				continue
			}
		case topic, ok = <-removed:
			class = notify.TopicRemoved
			if !ok {
				removed = nil
				continue
			}
		case <-renew:
			s.renew(ctx, logger, regs)
			continue
		}

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(EventMessage{Type: class.String(), Topic: &topic}); err != nil {
			logger.Debug("Event stream write failed", "error", err)
			writeFailed = true
			break
		}
	}

	// The streams ended without the client leaving, so their leases are gone.
	if !writeFailed && ctx.Err() == nil {
		logger.Warn("Event stream registrations ended", "remote", c.RealIP())
		closeStream(conn)
	}

	cancel()
	addedReg.Cancel(context.WithoutCancel(ctx))
	removedReg.Cancel(context.WithoutCancel(ctx))
	logger.Info("Event stream closed", "remote", c.RealIP())
	return nil
}

// renew extends every registration by the subscriber lease. A failed renewal
// is logged; a registration whose lease is gone closes its stream.
func (s *Server) renew(ctx context.Context, logger *slog.Logger, regs []*notify.Registration) {
	for _, r := range regs {
		if err := r.Renew(ctx, s.chat.NotifyLease()); err != nil {
			logger.Warn("Failed to renew event registration", "class", r.Class(), "error", err)
		}
	}
}

func closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "event stream unavailable")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
