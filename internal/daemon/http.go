package daemon

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	derrors "git.home.luguber.info/inful/loraci/internal/errors"
	"git.home.luguber.info/inful/loraci/internal/eventstore"
	"git.home.luguber.info/inful/loraci/internal/job"
	"git.home.luguber.info/inful/loraci/internal/logfields"
	"git.home.luguber.info/inful/loraci/internal/metrics"
	"git.home.luguber.info/inful/loraci/internal/report"
	"git.home.luguber.info/inful/loraci/internal/trigger"
	"git.home.luguber.info/inful/loraci/internal/version"
)

const (
	maxWebhookBody  = 5 << 20
	defaultJobLimit = 20
)

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Status   string            `json:"status"`
	JobID    string            `json:"job_id,omitempty"`
	Decision *trigger.Decision `json:"decision,omitempty"`
	Reason   string            `json:"reason,omitempty"`
}

// HealthResponse is the /healthz payload.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	RunningJob    string `json:"running_job,omitempty"`
	History       string `json:"history"`
	Error         string `json:"error,omitempty"`
}

// Handler returns the daemon's HTTP API.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+d.Config().Daemon.WebhookPath, d.handleWebhook)
	mux.HandleFunc("GET /healthz", d.handleHealth)
	mux.HandleFunc("GET /jobs", d.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", d.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/report", d.handleJobReport)
	mux.HandleFunc("POST /jobs/{id}/cancel", d.handleCancelJob)
	mux.Handle("GET /metrics", metrics.HTTPHandler(d.registry))
	return instrument(slog.Default(), d.errAdapter, mux)
}

func (d *Daemon) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, derrors.ValidationFailed("body", "failed to read webhook payload"))
		return
	}

	forge := trigger.DetectForge(r.Header)
	log := slog.With(logfields.ForgeType(string(forge)))

	if secret := d.Config().Daemon.WebhookSecret; secret != "" {
		if !trigger.ValidateSignature(body, trigger.SignatureHeader(forge, r.Header), secret) {
			d.metrics.IncTrigger(string(job.SourceWebhook), false)
			log.Warn("Webhook signature rejected", logfields.RemoteAddr(r.RemoteAddr))
			d.errAdapter.WriteErrorResponse(w, r,
				derrors.New(derrors.CategoryAuth, derrors.SeverityWarning, "invalid webhook signature"))
			return
		}
	}

	if eventType := trigger.EventType(forge, r.Header); !trigger.IsPushEventType(eventType) {
		log.Debug("Ignoring non-push webhook", slog.String("event", eventType))
		d.writeJSON(w, r, http.StatusAccepted, WebhookResponse{Status: "ignored", Reason: "event " + eventType})
		return
	}

	ev, err := trigger.ParsePushEvent(body)
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, derrors.ValidationFailed("payload", err.Error()))
		return
	}
	if ev.Deleted {
		log.Info("Ignoring ref deletion", logfields.Ref(ev.Ref))
		d.writeJSON(w, r, http.StatusAccepted, WebhookResponse{Status: "ignored", Reason: "ref deleted"})
		return
	}
	if !ev.IsBranchPush() {
		log.Debug("Ignoring non-branch push", logfields.Ref(ev.Ref))
		d.writeJSON(w, r, http.StatusAccepted, WebhookResponse{Status: "ignored", Reason: "not a branch: " + ev.Ref})
		return
	}
	if repoURL := d.Config().Repository.URL; !ev.MatchesRepository(repoURL) {
		log.Warn("Ignoring push for another repository",
			slog.String("repository", ev.Repository),
			logfields.URL(repoURL))
		d.writeJSON(w, r, http.StatusAccepted, WebhookResponse{Status: "ignored", Reason: "repository " + ev.Repository + " is not configured"})
		return
	}

	j, decision, err := d.Submit(r.Context(), ev.Ref, job.SourceWebhook, ev.After)
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, err)
		return
	}
	resp := WebhookResponse{Status: string(j.Status), JobID: j.ID, Decision: &decision}
	status := http.StatusAccepted
	if j.Status == job.StatusSkipped {
		status = http.StatusOK
	}
	d.writeJSON(w, r, status, resp)
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       version.Version,
		Uptime:        time.Since(d.startTime).Round(time.Second).String(),
		QueueDepth:    d.queue.Depth(),
		QueueCapacity: d.queue.Capacity(),
		RunningJob:    d.queue.Current(),
		History:       string(d.Config().History.Driver),
	}
	status := http.StatusOK
	if _, err := d.store.ListJobIDs(r.Context(), 1); err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	d.writeJSON(w, r, status, resp)
}

func (d *Daemon) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			d.errAdapter.WriteErrorResponse(w, r, derrors.ValidationFailed("limit", "must be a positive integer"))
			return
		}
		limit = n
	}

	jobs := append(d.projection.GetActiveJobs(), d.projection.GetHistory()...)
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	d.writeJSON(w, r, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (d *Daemon) handleGetJob(w http.ResponseWriter, r *http.Request) {
	j, err := d.lookupJob(r)
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, err)
		return
	}
	d.writeJSON(w, r, http.StatusOK, j)
}

func (d *Daemon) handleJobReport(w http.ResponseWriter, r *http.Request) {
	j, err := d.lookupJob(r)
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, err)
		return
	}
	page, err := report.HTML(j)
	if err != nil {
		d.errAdapter.WriteErrorResponse(w, r, derrors.InternalError("failed to render report", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(page); err != nil {
		slog.Error("Failed writing report", logfields.Error(err))
	}
}

func (d *Daemon) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !d.Cancel(id) {
		d.errAdapter.WriteErrorResponse(w, r,
			derrors.NotFound("active job", id, eventstore.ErrJobNotFound))
		return
	}
	slog.Info("Job cancel requested", logfields.JobID(id))
	d.writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "canceling", "job_id": id})
}

// lookupJob prefers the in-memory view and falls back to the event store
// for jobs that aged out of it.
func (d *Daemon) lookupJob(r *http.Request) (*job.Job, error) {
	id := r.PathValue("id")
	if j, ok := d.projection.GetJob(id); ok {
		return j, nil
	}
	j, err := eventstore.Replay(r.Context(), d.store, id)
	if err != nil {
		if errors.Is(err, eventstore.ErrJobNotFound) {
			return nil, err
		}
		return nil, derrors.StoreError("replay job", err)
	}
	return j, nil
}

// writeJSON encodes into a buffer first so a failed encode never leaves a
// partial body. ?pretty=1 indents the output.
func (d *Daemon) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if p := r.URL.Query().Get("pretty"); p == "1" || p == "true" {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		d.errAdapter.WriteErrorResponse(w, r, derrors.InternalError("failed to encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("Failed writing JSON response body", logfields.Error(err))
	}
}
