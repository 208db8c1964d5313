package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/maltedev/marketplace-scraper/internal/database"
	"github.com/maltedev/marketplace-scraper/internal/models"
	"github.com/maltedev/marketplace-scraper/internal/site"
	"github.com/maltedev/marketplace-scraper/internal/stream"
	"github.com/maltedev/marketplace-scraper/internal/targets"
)

// Runner executes batches. *scraper.Batch satisfies it.
type Runner interface {
	Run(ctx context.Context, profile *site.Profile, targets []string, concurrency int) (*models.Report, error)
	Stream(ctx context.Context, profile *site.Profile, targets []string, concurrency int) (<-chan models.Event, error)
}

// Recorder persists finished runs. *events.Publisher satisfies it.
type Recorder interface {
	PublishRunCompleted(ctx context.Context, site string, report *models.Report, startedAt, finishedAt time.Time) (uuid.UUID, error)
}

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	Counts(ctx context.Context) (pending, deadLetter int64, err error)
}

// RunStore looks up persisted runs. *database.RunRepository satisfies it.
type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*database.Run, error)
}

type Options struct {
	Recorder       Recorder
	Stats          OutboxStats
	Runs           RunStore
	MaxUploadBytes int64
	BatchTimeout   time.Duration
}

type Handlers struct {
	runner Runner
	sites  *site.Registry
	opts   Options
	logger *slog.Logger
}

func NewHandlers(runner Runner, sites *site.Registry, opts Options, logger *slog.Logger) *Handlers {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handlers{
		runner: runner,
		sites:  sites,
		opts:   opts,
		logger: logger.With("component", "api"),
	}
}

// ScrapeRequest is the JSON body accepted by the scrape endpoints.
type ScrapeRequest struct {
	URLs        []string `json:"urls"`
	Concurrency int      `json:"concurrency"`
}

type scrapeJob struct {
	profile     *site.Profile
	targets     []string
	concurrency int
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
		"sites":  h.sites.Names(),
	}

	status := http.StatusOK
	if h.opts.Stats != nil {
		pending, deadLetter, err := h.opts.Stats.Counts(r.Context())
		if err != nil {
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "degraded"
		} else {
			health["outbox"] = map[string]int64{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
			if pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// Scrape runs the batch and returns the aggregated report.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	job, status, err := h.parseJob(w, r)
	if err != nil {
		h.respondError(w, status, err.Error())
		return
	}

	ctx, cancel := h.batchContext(r.Context())
	defer cancel()

	started := time.Now()
	report, err := h.runner.Run(ctx, job.profile, job.targets, job.concurrency)
	if err != nil {
		h.logger.Error("batch failed", "site", job.profile.Name, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	if runID, ok := h.record(job.profile.Name, report, started); ok {
		w.Header().Set("X-Run-ID", runID.String())
	}

	h.respondJSON(w, http.StatusOK, report)
}

// ScrapeStream runs the batch and forwards every event as a Server-Sent
// Event.
func (h *Handlers) ScrapeStream(w http.ResponseWriter, r *http.Request) {
	job, status, err := h.parseJob(w, r)
	if err != nil {
		h.respondError(w, status, err.Error())
		return
	}

	ctx, cancel := h.batchContext(r.Context())
	defer cancel()

	started := time.Now()
	events, err := h.runner.Stream(ctx, job.profile, job.targets, job.concurrency)
	if err != nil {
		h.logger.Error("batch failed", "site", job.profile.Name, "error", err)
		h.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var report *models.Report
	forwarded := make(chan models.Event)
	go func() {
		defer close(forwarded)
		for ev := range events {
			if ev.Type == models.EventComplete {
				report = ev.Report
			}
			forwarded <- ev
		}
	}()

	stream.SetSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	if err := stream.WriteSSE(w, forwarded); err != nil {
		h.logger.Warn("event stream interrupted", "site", job.profile.Name, "error", err)
		cancel()
		for range forwarded {
		}
		return
	}

	if report != nil {
		h.record(job.profile.Name, report, started)
	}
}

// GetRun returns the summary of a persisted run.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.opts.Runs == nil {
		h.respondError(w, http.StatusNotFound, "run history is disabled")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid run ID")
		return
	}

	run, err := h.opts.Runs.Get(r.Context(), id)
	if errors.Is(err, database.ErrRunNotFound) {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	h.respondJSON(w, http.StatusOK, run)
}

func (h *Handlers) parseJob(w http.ResponseWriter, r *http.Request) (*scrapeJob, int, error) {
	profile, err := h.sites.Lookup(chi.URLParam(r, "site"))
	if err != nil {
		return nil, http.StatusNotFound, err
	}

	job := &scrapeJob{profile: profile}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxUploadBytes)
		if err := r.ParseMultipartForm(h.opts.MaxUploadBytes); err != nil {
			return nil, http.StatusBadRequest, fmt.Errorf("invalid upload: %w", err)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, http.StatusBadRequest, errors.New("file field is required")
		}
		defer file.Close()

		list, err := targets.FromCSV(file)
		if err != nil {
			return nil, http.StatusBadRequest, err
		}
		job.targets = list

		if v := r.FormValue("concurrency"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &job.concurrency); err != nil {
				return nil, http.StatusBadRequest, errors.New("concurrency must be a number")
			}
		}
	} else {
		var req ScrapeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, http.StatusBadRequest, errors.New("invalid request body")
		}
		job.targets = targets.Normalize(req.URLs)
		job.concurrency = req.Concurrency
	}

	if len(job.targets) == 0 {
		return nil, http.StatusBadRequest, targets.ErrNoTargets
	}
	if job.concurrency < 0 {
		return nil, http.StatusBadRequest, errors.New("concurrency cannot be negative")
	}

	return job, 0, nil
}

func (h *Handlers) batchContext(parent context.Context) (context.Context, context.CancelFunc) {
	if h.opts.BatchTimeout > 0 {
		return context.WithTimeout(parent, h.opts.BatchTimeout)
	}
	return context.WithCancel(parent)
}

// record stores the report when persistence is enabled. Failures are logged
// and never affect the response.
func (h *Handlers) record(siteName string, report *models.Report, started time.Time) (uuid.UUID, bool) {
	if h.opts.Recorder == nil {
		return uuid.Nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	runID, err := h.opts.Recorder.PublishRunCompleted(ctx, siteName, report, started, time.Now())
	if err != nil {
		h.logger.Error("failed to record run", "site", siteName, "error", err)
		return uuid.Nil, false
	}
	return runID, true
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
