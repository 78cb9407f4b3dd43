package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/mathlab-pvp/pkg/dueldto"
)

const feedWriteTimeout = 5 * time.Second

// handleRealtime streams every version of one match as dueldto.FeedEvent
// frames, starting with the current row.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.backend.GetMatch(r.Context(), id); err != nil {
		status, body := errorResponse(err)
		writeError(w, status, body)
		return
	}

	opts := &websocket.AcceptOptions{CompressionMode: websocket.CompressionNoContextTakeover}
	if len(s.cfg.AllowedOrigins) > 0 {
		opts.OriginPatterns = s.cfg.AllowedOrigins
	} else {
		opts.InsecureSkipVerify = true
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("realtime_accept_error", zap.String("match_id", id), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "feed ended")

	// clients only read; CloseRead answers pings and ends ctx when they leave
	ctx := conn.CloseRead(r.Context())
	rows, err := s.backend.Subscribe(ctx, id)
	if err != nil {
		s.logger.Warn("realtime_subscribe_error", zap.String("match_id", id), zap.Error(err))
		_ = conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return
	}
	s.logger.Info("realtime_open", zap.String("match_id", id), zap.String("remote_addr", r.RemoteAddr))

	for m := range rows {
		wctx, cancel := context.WithTimeout(ctx, feedWriteTimeout)
		err := wsjson.Write(wctx, conn, dueldto.FeedEvent{Type: "match", Match: dueldto.FromMatch(&m)})
		cancel()
		if err != nil {
			s.logger.Debug("realtime_write_error", zap.String("match_id", id), zap.Error(err))
			return
		}
	}
	s.logger.Info("realtime_close", zap.String("match_id", id))
	_ = conn.Close(websocket.StatusNormalClosure, "")
}
