// internal/handlers/ws_util.go
package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/aralila/storychain/internal/protocol"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsPingInterval = 30 * time.Second
	wsPingTimeout  = 15 * time.Second
)

// writePump drains out onto the websocket, pinging periodically to detect
// dead peers. It exits when the context is cancelled, the channel closes,
// or a write fails; the read side notices the closure through its own
// error.
func writePump(ctx context.Context, c *websocket.Conn, out <-chan protocol.Message, logger *logrus.Logger, who string) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-out:
			if !ok {
				return
			}
			data, err := protocol.Encode(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing %q frame for %s: %v", msg.Type, who, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("failed to write to websocket for %s: %v", who, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, wsPingTimeout)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("ping to %s failed, assuming disconnect: %v", who, err)
				return
			}
		}
	}
}

// logReadExit classifies a read-loop error for logging. Normal closures
// and context cancellation are expected shutdown paths.
func logReadExit(logger *logrus.Logger, who string, err error) {
	status := websocket.CloseStatus(err)
	switch {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Infof("websocket closed normally for %s", who)
	case strings.Contains(err.Error(), "context canceled"):
		logger.Infof("websocket context canceled for %s", who)
	default:
		logger.Warnf("websocket read error for %s: %v (status %d)", who, err, status)
	}
}

// roomFromPath extracts the {room} segment of a path like
// /ws/lobby/{room}/ after the given prefix has been trimmed.
func roomFromPath(path, prefix string) string {
	rest := strings.TrimPrefix(path, prefix)
	if idx := strings.IndexByte(rest, '/'); idx != -1 {
		rest = rest[:idx]
	}
	return rest
}
