package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jdziat/doc-pipeline/pkg/core"
	"github.com/jdziat/doc-pipeline/pkg/memtrack"
	"github.com/jdziat/doc-pipeline/pkg/pool"
)

// Handler serves the admin API.
type Handler struct {
	registry    core.Registry
	checkpoints core.CheckpointStore
	tracker     *memtrack.Tracker
	pools       *pool.Set
	logger      *slog.Logger
}

// NewHandler creates the admin API handler.
func NewHandler(
	registry core.Registry,
	checkpoints core.CheckpointStore,
	tracker *memtrack.Tracker,
	pools *pool.Set,
	logger *slog.Logger,
) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		registry:    registry,
		checkpoints: checkpoints,
		tracker:     tracker,
		pools:       pools,
		logger:      logger,
	}

	r := mux.NewRouter()
	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/jobs/{id}", h.getJob).Methods("GET")
	api.HandleFunc("/jobs/{id}/checkpoints", h.getCheckpoints).Methods("GET")
	api.HandleFunc("/jobs/{id}/memory", h.getJobMemory).Methods("GET")
	api.HandleFunc("/jobs/{id}/resume", h.resumeJob).Methods("POST")
	api.HandleFunc("/memory", h.getMemory).Methods("GET")
	api.HandleFunc("/pools", h.getPools).Methods("GET")
	return r
}

// JobResponse is the job status payload.
type JobResponse struct {
	ID                  string     `json:"id"`
	DocumentRef         string     `json:"document_ref"`
	Status              string     `json:"status"`
	CurrentStage        int        `json:"current_stage"`
	StageName           string     `json:"stage_name,omitempty"`
	LastCheckpointStage string     `json:"last_checkpoint_stage,omitempty"`
	Progress            float64    `json:"progress"`
	LastError           string     `json:"last_error,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.registry.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := JobResponse{
		ID:                  job.ID,
		DocumentRef:         job.DocumentRef,
		Status:              string(job.Status),
		CurrentStage:        job.CurrentStage,
		LastCheckpointStage: job.LastCheckpointStage,
		Progress:            job.Progress(),
		LastError:           job.LastError,
		CreatedAt:           job.CreatedAt,
		StartedAt:           job.StartedAt,
		CompletedAt:         job.CompletedAt,
	}
	if stage, ok := job.StageAt(job.CurrentStage); ok {
		resp.StageName = stage.Name
	}
	h.writeJSON(w, resp)
}

func (h *Handler) getCheckpoints(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	checkpoints, err := h.checkpoints.List(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, checkpoints)
}

func (h *Handler) getJobMemory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	samples, err := h.registry.MemorySamples(r.Context(), id, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, samples)
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		http.Error(w, "memory tracking disabled", http.StatusNotFound)
		return
	}
	h.writeJSON(w, h.tracker.Metrics())
}

func (h *Handler) getPools(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, h.pools.Stats())
}

// resumeJob triggers a manual resume. The job is only flipped back to
// runnable; execution stays with the serving worker, which claims the job
// under a lease on its next poll. Running the job here would race that claim.
func (h *Handler) resumeJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.registry.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job.Status.Terminal() {
		h.writeJSON(w, map[string]string{"status": string(job.Status)})
		return
	}

	if err := h.registry.MarkInterrupted(r.Context(), id, "manual resume requested"); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.logger.Info("job queued for resume", "job_id", id)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(map[string]string{"status": "queued"}); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
