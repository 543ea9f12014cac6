package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-grader/internal/response"
	ws "github.com/stemsi/exstem-grader/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ProgressSubscriber attaches to a test's evaluation progress channel.
type ProgressSubscriber interface {
	Subscribe(ctx context.Context, testID uuid.UUID) (<-chan *redis.Message, io.Closer, error)
}

// ProgressHandler streams evaluation progress over WebSocket.
type ProgressHandler struct {
	progress ProgressSubscriber
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progress ProgressSubscriber, log zerolog.Logger, allowedOrigins []string) *ProgressHandler {
	return &ProgressHandler{
		progress: progress,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// Stream godoc
// WS /ws/v1/teacher/tests/:test_id/progress?token=
// Forwards every progress event of the test. Clients may send
// {"action":"ping"} to keep the connection alive.
func (h *ProgressHandler) Stream(c *gin.Context) {
	testID, ok := uuidParam(c, "test_id")
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	msgs, sub, err := h.progress.Subscribe(ctx, testID)
	if err != nil {
		h.log.Error().Err(err).Str("test_id", testID.String()).Msg("Progress subscribe failed")
		response.Fail(c, http.StatusServiceUnavailable, response.ErrInternal)
		return
	}
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("test_id", testID.String()).Logger()
	wsLog.Info().Msg("Teacher attached to evaluation progress")

	if err := ws.WriteTyped(conn, ws.SubscribedResponse{Event: ws.EventSubscribed, TestID: testID}); err != nil {
		return
	}

	// Only this goroutine writes to conn; the reader hands actions over.
	actions := make(chan ws.Action)
	go func() {
		defer cancel()
		for {
			var env ws.RequestEnvelope
			if err := ws.ReadJSON(conn, &env); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsLog.Warn().Err(err).Msg("Unexpected close")
				}
				return
			}
			select {
			case actions <- env.Action:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			wsLog.Info().Msg("Teacher detached from evaluation progress")
			return

		case action := <-actions:
			var err error
			switch action {
			case ws.ActionPing:
				err = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
			default:
				err = ws.WriteError(conn, "unknown action: "+string(action))
			}
			if err != nil {
				return
			}

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if err := ws.WriteRaw(conn, []byte(msg.Payload)); err != nil {
				wsLog.Debug().Err(err).Msg("Progress write failed")
				return
			}
		}
	}
}
