package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tidwall/sjson"
)

// Hub serves the HUD: live events over websocket at /events, prometheus
// counters at /metrics, and a liveness probe at /healthz.
type Hub struct {
	bus     *Bus
	metrics *Metrics
	logger  zerolog.Logger
}

// NewHub wires a hub to a bus and metrics set.
func NewHub(bus *Bus, metrics *Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		metrics: metrics,
		logger:  logger.With().Str("component", "hud").Logger(),
	}
}

// Handler returns the HUD route set.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	mux.Handle("/metrics", h.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// ListenAndServe runs the HUD until ctx is cancelled.
func (h *Hub) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	h.logger.Info().Str("addr", addr).Msg("hud listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleEvents upgrades to websocket and streams bus events as JSON text
// frames. Each frame carries a per-connection sequence number.
func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	clientID := uuid.NewString()
	h.logger.Info().Str("client_id", clientID).Msg("hud client connected")
	defer conn.CloseNow()

	events, cancel := h.bus.Subscribe()
	defer cancel()

	var seq int64
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "bus closed")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			seq++
			data, _ = sjson.SetBytes(data, "seq", seq)

			writeCtx, cancelWrite := context.WithTimeout(r.Context(), 10*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancelWrite()
			if err != nil {
				h.logger.Debug().Str("client_id", clientID).Err(err).Msg("hud client write failed")
				return
			}
		case <-r.Context().Done():
			_ = conn.Close(websocket.StatusNormalClosure, "server shutdown")
			return
		}
	}
}
