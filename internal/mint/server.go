package mint

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bardlex/hashpool/pkg/log"
)

// paidQuotesResponse mirrors internal/quotehub.paidQuotesResponse, the
// shape the pool's Poller decodes.
type paidQuotesResponse struct {
	Quotes []string `json:"quotes"`
}

// StatusServer exposes GET /quotes?status=paid over plain HTTP, the
// pool-mint quote pipeline's status channel, kept separate from the SV2
// Noise connection internal/mintclient.Client maintains for the request/
// response exchange itself.
//
// Grounded on the status/metrics HTTP server shape the pack's
// Distortions81-M45-goPool main.go builds around http.Server plus a
// ServeMux, adapted from a dashboard to a single polled JSON endpoint.
type StatusServer struct {
	addr   string
	engine *Engine
	logger *log.Logger
	srv    *http.Server
}

// NewStatusServer creates a status server bound to addr.
func NewStatusServer(addr string, engine *Engine, logger *log.Logger) *StatusServer {
	return &StatusServer{addr: addr, engine: engine, logger: logger}
}

// Run starts serving and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/quotes", s.handleQuotes)

	s.srv = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *StatusServer) handleQuotes(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("status") != "paid" {
		http.Error(w, "only status=paid is supported", http.StatusBadRequest)
		return
	}
	resp := paidQuotesResponse{Quotes: s.engine.PaidQuoteIDs()}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Error("failed to encode paid quotes response")
	}
}
