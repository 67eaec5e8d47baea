package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/compquest/server/internal/game"
	"github.com/compquest/server/internal/session"
)

// Inbound event names, as received on the wire.
const (
	inboundAnswer    = "answer"
	inboundReadyNext = "ready_next"
	inboundUseReveal = "use_reveal"
	inboundUseSwap   = "use_swap"
)

type inboundEvent struct {
	Event  string `json:"event"`
	Answer string `json:"answer"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// wsConn serializes writes. Broadcasts and the per-connection handler can
// both write, and gorilla allows only one concurrent writer.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (a *API) handleWS(c *gin.Context) {
	sessionID := c.Param("session_id")
	player := c.Param("player_name")
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(ctx, "ws: upgrade failed", "error", err)
		return
	}
	ws := &wsConn{conn: conn}

	if !a.checkToken(c.Request) {
		_ = ws.Send(gin.H{"error": "missing or invalid token"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "invalid token"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}

	ss, err := a.sessions.Get(sessionID)
	if err != nil {
		_ = ws.Send(gin.H{"event": "error", "message": "Session not found"})
		_ = conn.Close()
		return
	}

	a.hub.Register(sessionID, player, ws)
	slog.InfoContext(ctx, "ws: player connected", "session", sessionID, "player", player)

	snap := ss.Snapshot()
	if snap.Status == session.StatusReady {
		_ = ws.Send(game.SessionReadyMessage{
			Event:   game.EventSessionReady,
			Session: snap,
		})

		// The match may have started before this socket attached; make
		// sure both sockets hold round 1.
		if snap.CurrentIndex == 0 {
			a.game.EnsureRoundOpen(ctx, ss)
		}
	}

	a.readLoop(ctx, ss, player, conn)

	a.hub.Unregister(sessionID, player)
	slog.InfoContext(ctx, "ws: player disconnected", "session", sessionID, "player", player)

	// The match does not end on disconnect; the remaining player is only
	// notified.
	if len(a.hub.Connected(sessionID)) > 0 {
		a.hub.Broadcast(context.WithoutCancel(ctx), sessionID, game.PlayerDisconnectedMessage{
			Event:              game.EventPlayerDisconnected,
			DisconnectedPlayer: player,
			Message:            player + " left the match",
		})
	}
}

func (a *API) readLoop(ctx context.Context, ss *session.Session, player string, conn *websocket.Conn) {
	for {
		var in inboundEvent
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.DebugContext(ctx, "ws: read failed", "player", player, "error", err)
			}
			return
		}

		switch in.Event {
		case inboundAnswer:
			a.game.HandleAnswer(ctx, ss, player, in.Answer)
		case inboundReadyNext:
			a.game.HandleReady(ctx, ss, player)
		case inboundUseReveal:
			a.game.HandleReveal(ctx, ss, player)
		case inboundUseSwap:
			a.game.HandleSwap(ctx, ss, player)
		default:
			slog.DebugContext(ctx, "ws: unknown event ignored", "event", in.Event, "player", player)
		}
	}
}
