// Package httpstatus exposes a read-only diagnostic HTTP surface over
// a running pipeline: /health and /health/detailed handlers whose
// status code reflects degraded vs. healthy and whose JSON body
// carries the detail. This package never accepts writes; it exists
// purely for operators and monitoring.
package httpstatus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/foldchain/zkconsensus/pkg/pipeline"
	"github.com/foldchain/zkconsensus/pkg/recursion"
)

// Status is the JSON body served at /health.
type Status struct {
	Stage           pipeline.Stage `json:"stage"`
	Height          uint64         `json:"height"`
	ChainReceiptLag uint64         `json:"chain_receipt_lag"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
}

// Handler serves the current pipeline/chain-receipt status.
type Handler struct {
	pipe      *pipeline.Pipeline
	composer  *recursion.Composer
	height    func() uint64
	startedAt time.Time
}

// NewHandler builds a Handler reading live state from pipe and
// composer; height reports the authoritative chain height (typically
// world.BlockNumber).
func NewHandler(pipe *pipeline.Pipeline, composer *recursion.Composer, height func() uint64) *Handler {
	return &Handler{pipe: pipe, composer: composer, height: height, startedAt: time.Now()}
}

// Register mounts the two-tier health surface, /health and
// /health/detailed, on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
}

func (h *Handler) snapshot() Status {
	height := h.height()
	lag := uint64(0)
	if chainHeight := h.composer.Current().Height; height > chainHeight {
		lag = height - chainHeight
	}
	return Status{
		Stage:           h.pipe.Stage(),
		Height:          height,
		ChainReceiptLag: lag,
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
	}
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := h.snapshot()
	w.Header().Set("Content-Type", "application/json")
	if s.Stage == "" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(s)
}

func (h *Handler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	s := h.snapshot()
	detailed := struct {
		Status
		ChainReceiptOutputs recursion.ChainReceiptOutputs `json:"chain_receipt_outputs"`
	}{
		Status:              s,
		ChainReceiptOutputs: h.composer.Current(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(detailed)
}
