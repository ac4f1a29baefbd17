// Package handlers provides the HTTP surface for parameter sweeps: starting
// a batch, polling its status, and streaming progress over WebSocket.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/domain"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/batch"
	"github.com/kevinw99/DCA-Backtest-Tool-sub010/internal/modules/results"
)

// Batch lifecycle states reported by GET /api/batch/{id}.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// progressEvent is one WebSocket progress message.
type progressEvent struct {
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	Symbol    string        `json:"symbol"`
	Params    domain.Params `json:"params"`
}

// job tracks one asynchronous batch from start to terminal state.
type job struct {
	id      string
	started time.Time

	mu        sync.Mutex
	status    string
	completed int
	total     int
	result    *batch.BatchResult
	err       error
	subs      map[chan progressEvent]struct{}

	// done closes once the job reaches a terminal state, strictly after
	// the last progress event has been fanned out.
	done chan struct{}
}

func newJob(id string) *job {
	return &job{
		id:      id,
		started: time.Now(),
		status:  StatusRunning,
		subs:    make(map[chan progressEvent]struct{}),
		done:    make(chan struct{}),
	}
}

// onProgress implements batch.ProgressFunc. It snapshots the counters and
// fans the event out to every subscriber. A subscriber that cannot keep up
// loses events rather than stalling the sweep.
func (j *job) onProgress(completed, total int, symbol string, params domain.Params) {
	ev := progressEvent{Completed: completed, Total: total, Symbol: symbol, Params: params}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.completed, j.total = completed, total
	for ch := range j.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (j *job) subscribe() chan progressEvent {
	ch := make(chan progressEvent, 16)
	j.mu.Lock()
	j.subs[ch] = struct{}{}
	j.mu.Unlock()
	return ch
}

func (j *job) unsubscribe(ch chan progressEvent) {
	j.mu.Lock()
	delete(j.subs, ch)
	j.mu.Unlock()
}

func (j *job) complete(res *batch.BatchResult) {
	j.mu.Lock()
	j.status = StatusCompleted
	j.result = res
	j.completed, j.total = res.Completed, res.Total
	j.mu.Unlock()
	close(j.done)
}

func (j *job) fail(err error) {
	j.mu.Lock()
	j.status = StatusFailed
	j.err = err
	j.mu.Unlock()
	close(j.done)
}

// Handler handles batch HTTP requests and owns the in-memory job registry.
type Handler struct {
	runner   *batch.Runner
	provider domain.PriceProvider
	results  *results.Repository
	defaults *domain.ParamsOverride
	workers  int

	mu   sync.Mutex
	jobs map[string]*job

	// runCtx parents every sweep so Shutdown can cancel them all.
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	log zerolog.Logger
}

// NewHandler creates a new batch handler. workers bounds the pool when a
// request does not set its own; zero lets the runner size the pool per CPU.
func NewHandler(
	runner *batch.Runner,
	provider domain.PriceProvider,
	resultsRepo *results.Repository,
	defaults *domain.ParamsOverride,
	workers int,
	log zerolog.Logger,
) *Handler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Handler{
		runner:   runner,
		provider: provider,
		results:  resultsRepo,
		defaults: defaults,
		workers:  workers,
		jobs:     make(map[string]*job),
		runCtx:   ctx,
		cancel:   cancel,
		log:      log.With().Str("handler", "batch").Logger(),
	}
}

// Shutdown cancels every running sweep and waits for their goroutines to
// finish. Cancelled sweeps land as failed jobs.
func (h *Handler) Shutdown() {
	h.cancel()
	h.wg.Wait()
}

// batchRequest is the POST /api/batch body. BaseParams is the request
// parameter layer; ParameterRanges maps parameter names to the values to
// sweep.
type batchRequest struct {
	Symbols         []string               `json:"symbols"`
	StartDate       domain.Date            `json:"startDate"`
	EndDate         domain.Date            `json:"endDate"`
	BaseParams      *domain.ParamsOverride `json:"baseParams,omitempty"`
	ParameterRanges batch.ParameterRanges  `json:"parameterRanges,omitempty"`
	Workers         int                    `json:"workers,omitempty"`
	TopK            int                    `json:"topK,omitempty"`
}

// HandleStartBatch handles POST /api/batch. The sweep runs in the
// background; the 202 response carries the ID to poll or stream.
func (h *Handler) HandleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	workers := req.Workers
	if workers <= 0 {
		workers = h.workers
	}
	cfg := batch.Config{
		Symbols:    req.Symbols,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		BaseParams: domain.Merge(h.defaults, req.BaseParams, nil),
		Ranges:     req.ParameterRanges,
		Workers:    workers,
		TopK:       req.TopK,
	}
	if err := cfg.Validate(); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	j := newJob(uuid.NewString())
	h.mu.Lock()
	h.jobs[j.id] = j
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(j, cfg)

	h.log.Info().
		Str("batchId", j.id).
		Int("symbols", len(cfg.Symbols)).
		Msg("batch started")
	h.writeJSON(w, http.StatusAccepted, map[string]string{"batchId": j.id})
}

// run executes one sweep to its terminal state. It is detached from the
// request context: the sweep outlives the POST and stops only on its own
// completion or on Shutdown.
func (h *Handler) run(j *job, cfg batch.Config) {
	defer h.wg.Done()

	res, err := h.runner.Run(h.runCtx, cfg, h.provider, j.onProgress)
	if err != nil {
		j.fail(err)
		h.log.Error().Err(err).Str("batchId", j.id).Msg("Batch run failed")
		return
	}

	// Persist with a fresh context: Shutdown cancels runCtx, but a sweep
	// that already finished should still reach the ledger.
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := h.results.SaveBatch(saveCtx, j.id, cfg, res); err != nil {
		h.log.Error().Err(err).Str("batchId", j.id).Msg("Failed to persist batch")
	}

	j.complete(res)
	h.log.Info().
		Str("batchId", j.id).
		Int("total", res.Total).
		Int("completed", res.Completed).
		Bool("cancelled", res.Cancelled).
		Dur("elapsed", time.Since(j.started)).
		Msg("batch finished")
}

// HandleGetBatch handles GET /api/batch/{id}. Jobs started by this process
// report live status; anything else falls back to the persisted ledger, so
// finished batches survive a restart.
func (h *Handler) HandleGetBatch(w http.ResponseWriter, r *http.Request, id string) {
	h.mu.Lock()
	j := h.jobs[id]
	h.mu.Unlock()

	if j == nil {
		rec, err := h.results.GetBatch(r.Context(), id)
		if err != nil {
			h.log.Error().Err(err).Str("batchId", id).Msg("Failed to load batch")
			h.writeError(w, http.StatusInternalServerError, "Failed to load batch")
			return
		}
		if rec == nil {
			h.writeError(w, http.StatusNotFound, "unknown batch "+id)
			return
		}
		h.writeJSON(w, http.StatusOK, map[string]any{
			"batchId":   rec.ID,
			"status":    StatusCompleted,
			"total":     rec.Total,
			"completed": rec.Completed,
			"cancelled": rec.Cancelled,
			"createdAt": rec.CreatedAt,
		})
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	switch j.status {
	case StatusCompleted:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"batchId": j.id,
			"status":  j.status,
			"result":  j.result,
		})
	case StatusFailed:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"batchId": j.id,
			"status":  j.status,
			"error":   j.err.Error(),
		})
	default:
		h.writeJSON(w, http.StatusOK, map[string]any{
			"batchId":   j.id,
			"status":    j.status,
			"total":     j.total,
			"completed": j.completed,
		})
	}
}

// HandleBatchWS handles GET /api/batch/{id}/ws. Progress events stream as
// JSON text messages; once the batch reaches a terminal state the server
// drains what is queued and closes the socket with a normal closure.
func (h *Handler) HandleBatchWS(w http.ResponseWriter, r *http.Request, id string) {
	h.mu.Lock()
	j := h.jobs[id]
	h.mu.Unlock()
	if j == nil {
		h.writeError(w, http.StatusNotFound, "unknown batch "+id)
		return
	}

	// Subscribe before the handshake completes: a client that has seen the
	// 101 response must not miss events fired right after.
	ch := j.subscribe()
	defer j.unsubscribe(ch)

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Str("batchId", id).Msg("WebSocket accept failed")
		return
	}

	// CloseRead discards inbound frames while keeping control-frame
	// handling alive; its context ends when the peer goes away.
	ctx := c.CloseRead(r.Context())

	for {
		select {
		case ev := <-ch:
			if !h.writeEvent(ctx, c, j.id, ev) {
				return
			}
		case <-j.done:
			// Events queued before the terminal state still belong to
			// the stream.
			for {
				select {
				case ev := <-ch:
					if !h.writeEvent(ctx, c, j.id, ev) {
						return
					}
				default:
					c.Close(websocket.StatusNormalClosure, "batch finished")
					return
				}
			}
		case <-ctx.Done():
			c.Close(websocket.StatusGoingAway, "client disconnected")
			return
		}
	}
}

func (h *Handler) writeEvent(ctx context.Context, c *websocket.Conn, id string, ev progressEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		h.log.Error().Err(err).Str("batchId", id).Msg("Failed to encode progress event")
		return true
	}
	if err := c.Write(ctx, websocket.MessageText, data); err != nil {
		h.log.Debug().Err(err).Str("batchId", id).Msg("WebSocket write failed, dropping subscriber")
		return false
	}
	return true
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
