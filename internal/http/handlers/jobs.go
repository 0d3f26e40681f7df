package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"renderbot/internal/domain"
	"renderbot/internal/pipeline"
)

type enqueueRequest struct {
	UserID         int64  `json:"user_id"`
	ChatID         int64  `json:"chat_id"`
	Kind           string `json:"kind"`
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt"`
	Workflow       string `json:"workflow"`
	InputImage     string `json:"input_image"`
	Quality        bool   `json:"quality"`
	Locale         string `json:"locale"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type jobView struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Attempt int    `json:"attempt"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`

	Result *resultView `json:"result,omitempty"`
}

type resultView struct {
	Filename   string `json:"filename"`
	MIME       string `json:"mime"`
	StorageKey string `json:"storage_key,omitempty"`
	Size       int64  `json:"size"`
	Preset     string `json:"preset,omitempty"`
}

func viewOf(j *domain.Job) jobView {
	snap := j.Snapshot()
	v := jobView{
		ID:      j.ID,
		Kind:    string(j.Kind),
		Status:  string(snap.Status),
		Attempt: snap.Attempt,
		Message: snap.LastMessage,
		Error:   snap.LastError,
	}
	if snap.Result != nil {
		v.Result = &resultView{
			Filename:   snap.Result.Filename,
			MIME:       snap.Result.MIME,
			StorageKey: snap.Result.StorageKey,
			Size:       snap.Result.Size,
			Preset:     snap.Result.PresetName,
		}
	}
	return v
}

// EnqueueJob admits a generation job and answers with its id.
func (a *App) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Prompt == "" {
		a.jsonError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	jobID, err := a.Pipeline.Enqueue(r.Context(), enqueueToPipeline(req))
	if err != nil {
		if errors.Is(err, domain.ErrQueueStopped) {
			a.jsonError(w, http.StatusServiceUnavailable, "queue is shutting down")
			return
		}
		a.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// GetJob answers with the tracked state of one job.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, ok := a.Pipeline.Job(id)
	if !ok {
		a.jsonError(w, http.StatusNotFound, "job not found")
		return
	}
	a.json(w, http.StatusOK, viewOf(job))
}

// CancelJob flags a job for cooperative cancellation.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a.json(w, http.StatusOK, map[string]bool{"canceled": a.Pipeline.Cancel(id)})
}

// CancelLastJob cancels the calling user's most recent job.
func (a *App) CancelLastJob(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil {
		a.jsonError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"canceled": a.Pipeline.CancelLast(userID)})
}

// QueueStats reports the backlog depth.
func (a *App) QueueStats(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]int{"pending": a.Pipeline.QueueSize()})
}

// UploadInput accepts raw image bytes and stages them on the engine for use
// as a job's seed image.
func (a *App) UploadInput(w http.ResponseWriter, r *http.Request) {
	filename := r.URL.Query().Get("filename")
	if filename == "" {
		filename = "input-" + strconv.FormatInt(time.Now().UnixNano(), 36) + ".png"
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil || len(data) == 0 {
		a.jsonError(w, http.StatusBadRequest, "empty upload body")
		return
	}
	stored, err := a.Pipeline.UploadInput(r.Context(), data, filename)
	if err != nil {
		a.jsonError(w, http.StatusBadGateway, err.Error())
		return
	}
	a.json(w, http.StatusOK, map[string]string{"name": stored})
}

func enqueueToPipeline(req enqueueRequest) (out pipeline.EnqueueRequest) {
	out.UserID = req.UserID
	out.ChatID = req.ChatID
	out.Kind = domain.JobKind(req.Kind)
	out.Prompt = req.Prompt
	out.NegativePrompt = req.NegativePrompt
	out.WorkflowName = req.Workflow
	out.InputImageName = req.InputImage
	out.Quality = req.Quality
	out.Locale = req.Locale
	if req.TimeoutSeconds > 0 {
		out.TimeoutHint = time.Duration(req.TimeoutSeconds) * time.Second
	}
	return out
}
