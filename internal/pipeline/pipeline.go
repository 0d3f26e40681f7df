// Package pipeline binds the job queue, engine gateway, workflow templates,
// and preset downgrade policy into the single entry point the outer layers
// use.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"renderbot/internal/domain"
	"renderbot/internal/engine"
	"renderbot/internal/i18n"
	"renderbot/internal/infra"
	"renderbot/internal/observability"
	"renderbot/internal/preset"
	"renderbot/internal/queue"
	"renderbot/internal/storage"
	"renderbot/internal/workflow"
)

const (
	defaultImageWorkflow = "flux_dev_fp8"
	defaultVideoWorkflow = "video_hunyuan15_720p_api"
)

// Engine is the subset of the gateway the pipeline drives. *engine.Client
// satisfies it.
type Engine interface {
	Submit(ctx context.Context, graph any) (string, error)
	SystemStats(ctx context.Context) engine.SystemStats
	ListOptions(ctx context.Context, nodeType, field string) []string
	WaitForResult(ctx context.Context, handle string, timeout time.Duration, cfg engine.WaitConfig) (*engine.Result, error)
	Upload(ctx context.Context, data []byte, filename, subfolder string) (string, error)
}

// TemplateLoader hands out parameterizable job graphs.
type TemplateLoader interface {
	Load(name string) (workflow.Graph, error)
	Exists(name string) bool
}

// Options wires the pipeline's collaborators.
type Options struct {
	Engine  Engine
	Loader  TemplateLoader
	Presets *preset.Controller
	Store   *storage.FileStore
	Prefs   *storage.PrefsRepo
	Catalog *i18n.Catalog
	Logger  infra.Logger

	Queue        queue.Config
	Wait         engine.WaitConfig
	Retries      int
	ImageTimeout time.Duration
	VideoTimeout time.Duration
	BackoffBase  time.Duration
	BackoffMax   time.Duration
}

// Pipeline is the façade. One instance runs per process.
type Pipeline struct {
	engine  Engine
	loader  TemplateLoader
	presets *preset.Controller
	store   *storage.FileStore
	prefs   *storage.PrefsRepo
	catalog *i18n.Catalog
	logger  infra.Logger

	wait         engine.WaitConfig
	retries      int
	imageTimeout time.Duration
	videoTimeout time.Duration
	backoffBase  time.Duration
	backoffMax   time.Duration

	queue *queue.Queue

	// lastJob tracks the most recently enqueued job per user so "cancel my
	// last job" works. Concurrent enqueues for one user race to
	// last-writer-wins; that is the documented semantic.
	mu      sync.Mutex
	lastJob map[int64]string
}

// New builds a pipeline; Start launches its workers.
func New(opts Options) (*Pipeline, error) {
	if opts.Engine == nil {
		return nil, errors.New("pipeline: engine is required")
	}
	if opts.Loader == nil {
		return nil, errors.New("pipeline: workflow loader is required")
	}
	if opts.Presets == nil {
		ctrl, err := preset.NewController(nil)
		if err != nil {
			return nil, err
		}
		opts.Presets = ctrl
	}
	if opts.Catalog == nil {
		opts.Catalog = i18n.NewCatalog("en")
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.ImageTimeout <= 0 {
		opts.ImageTimeout = 10 * time.Minute
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = 30 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}

	p := &Pipeline{
		engine:       opts.Engine,
		loader:       opts.Loader,
		presets:      opts.Presets,
		store:        opts.Store,
		prefs:        opts.Prefs,
		catalog:      opts.Catalog,
		logger:       opts.Logger,
		wait:         opts.Wait,
		retries:      opts.Retries,
		imageTimeout: opts.ImageTimeout,
		videoTimeout: opts.VideoTimeout,
		backoffBase:  opts.BackoffBase,
		backoffMax:   opts.BackoffMax,
		lastJob:      make(map[int64]string),
	}
	p.queue = queue.New(p.runJob, opts.Queue, opts.Logger)
	return p, nil
}

// Start launches the queue workers.
func (p *Pipeline) Start(ctx context.Context) {
	p.queue.Start(ctx)
}

// Stop drains the queue workers.
func (p *Pipeline) Stop() {
	p.queue.Stop()
}

// EnqueueRequest is one caller-facing generation request.
type EnqueueRequest struct {
	UserID         int64
	ChatID         int64
	Kind           domain.JobKind
	Prompt         string
	NegativePrompt string
	WorkflowName   string
	InputImageName string
	Quality        bool
	Locale         string
	TimeoutHint    time.Duration

	OnStatus domain.StatusObserver
	OnDone   domain.DoneCallback
	OnError  domain.ErrorCallback
}

// Enqueue admits a generation job and returns its id. Blocks under
// backpressure when the backlog is full.
func (p *Pipeline) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", fmt.Errorf("pipeline: prompt is required")
	}

	prefs, err := p.prefs.Get(ctx, req.UserID)
	if err != nil {
		p.logger.Warn().Err(err).Int64("user_id", req.UserID).Msg("pipeline: preference lookup failed, using defaults")
		prefs = storage.DefaultPrefs(req.UserID, "en")
	}
	if req.Kind == "" {
		req.Kind = domain.JobKind(prefs.DefaultKind)
	}
	if req.Kind != domain.JobKindImage && req.Kind != domain.JobKindVideo {
		return "", fmt.Errorf("pipeline: unsupported job kind %q", req.Kind)
	}
	if req.Locale == "" {
		req.Locale = prefs.Language
	}
	quality := req.Quality || prefs.Quality

	job := domain.NewJob(req.Kind, req.UserID, req.ChatID, domain.JobPayload{
		Prompt:         req.Prompt,
		NegativePrompt: req.NegativePrompt,
		WorkflowName:   req.WorkflowName,
		InputImageName: req.InputImageName,
		Quality:        quality,
		Locale:         req.Locale,
	})
	job.MaxRetries = p.retries
	job.BackoffBase = p.backoffBase
	job.BackoffMax = p.backoffMax
	job.Timeout = p.imageTimeout
	if req.Kind == domain.JobKindVideo {
		job.Timeout = p.videoTimeout
	}
	if req.TimeoutHint > 0 {
		job.Timeout = req.TimeoutHint
	}

	caller := req.OnStatus
	job.OnStatus = func(j *domain.Job, status domain.JobStatus, msg string) {
		localized := p.localizeStatus(j, status, msg)
		j.SetLastMessage(localized)
		if caller != nil {
			caller(j, status, localized)
		}
	}
	job.OnDone = req.OnDone
	job.OnError = req.OnError

	id, err := p.queue.Enqueue(ctx, job)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.lastJob[req.UserID] = id
	p.mu.Unlock()

	return id, nil
}

// Cancel flags the job for cooperative cancellation.
func (p *Pipeline) Cancel(jobID string) bool {
	return p.queue.Cancel(jobID)
}

// CancelLast cancels the user's most recently enqueued job, if any.
func (p *Pipeline) CancelLast(userID int64) bool {
	p.mu.Lock()
	jobID := p.lastJob[userID]
	p.mu.Unlock()
	if jobID == "" {
		return false
	}
	return p.queue.Cancel(jobID)
}

// UploadInput pushes a caller-supplied seed image into the engine's input
// namespace and returns the name to reference it by in a job request.
func (p *Pipeline) UploadInput(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("pipeline: empty input image")
	}
	return p.engine.Upload(ctx, data, filename, "renderbot")
}

// Job looks up a tracked job.
func (p *Pipeline) Job(id string) (*domain.Job, bool) {
	return p.queue.Job(id)
}

// QueueSize reports the current backlog depth.
func (p *Pipeline) QueueSize() int {
	return p.queue.Size()
}

func (p *Pipeline) localizeStatus(j *domain.Job, status domain.JobStatus, msg string) string {
	loc := j.Payload.Locale
	switch status {
	case domain.JobStatusQueued:
		return p.catalog.T(loc, "status.queued", p.queue.Size())
	case domain.JobStatusRunning:
		return p.catalog.T(loc, "status.running", j.Attempt())
	case domain.JobStatusRetrying:
		return p.catalog.T(loc, "status.retrying", j.LastError())
	case domain.JobStatusDone:
		return p.catalog.T(loc, "status.done")
	case domain.JobStatusFailed:
		lastErr := j.LastError()
		if preset.IsResourceExhaustion(lastErr) {
			return p.catalog.T(loc, "error.oom")
		}
		return p.catalog.T(loc, "status.failed", lastErr)
	case domain.JobStatusCanceled:
		return p.catalog.T(loc, "status.canceled")
	}
	return msg
}

// runJob executes one attempt of a job on a queue worker.
func (p *Pipeline) runJob(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	switch job.Kind {
	case domain.JobKindImage:
		return p.runImage(ctx, job)
	case domain.JobKindVideo:
		return p.runVideo(ctx, job)
	default:
		return nil, fmt.Errorf("pipeline: unsupported job kind %q", job.Kind)
	}
}

func (p *Pipeline) runImage(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	name := job.Payload.WorkflowName
	if name == "" || !p.loader.Exists(name) {
		if name != "" {
			p.logger.Warn().Str("workflow", name).Msg("pipeline: unknown workflow, using default")
		}
		name = defaultImageWorkflow
	}

	g, err := p.loader.Load(name)
	if err != nil {
		return nil, err
	}

	if job.Payload.InputImageName != "" {
		if !g.InjectInputImage(job.Payload.InputImageName) {
			p.logger.Warn().Str("workflow", name).Msg("pipeline: workflow has no image input, ignoring seed image")
		}
	}
	if err := g.InjectPrompt(job.Payload.Prompt, job.Payload.NegativePrompt); err != nil {
		return nil, &domain.SubmissionRejectedError{Reason: err.Error()}
	}
	applySamplingDefaults(g, name)

	if err := p.selectModels(ctx, g, name); err != nil {
		return nil, err
	}

	handle, err := p.submit(ctx, g)
	if err != nil {
		return nil, err
	}

	res, err := p.engine.WaitForResult(ctx, handle, job.Timeout, p.wait)
	if err != nil {
		return nil, err
	}
	return p.storeResult(ctx, job, res, "")
}

func (p *Pipeline) runVideo(ctx context.Context, job *domain.Job) (*domain.JobResult, error) {
	name := job.Payload.WorkflowName
	if name == "" || !p.loader.Exists(name) {
		name = defaultVideoWorkflow
	}

	stats := p.engine.SystemStats(ctx)
	budget, known := stats.VRAMBudgetMB()
	start := p.presets.PickStartIndex(budget, known, job.Payload.Quality)
	attempts := p.presets.AttemptSequence(start)

	var lastErr error
	for i, idx := range attempts {
		if job.Canceled() {
			return nil, domain.ErrJobCanceled
		}

		tier := p.presets.At(idx)
		p.logger.Info().Str("job_id", job.ID).Str("preset", tier.Name).Int("tier_attempt", i+1).Msg("pipeline: video attempt")

		// A fresh graph per tier: injection mutates nodes in place.
		g, err := p.loader.Load(name)
		if err != nil {
			return nil, err
		}
		if job.Payload.InputImageName != "" {
			g.InjectInputImage(job.Payload.InputImageName)
		}
		if err := g.InjectPrompt(job.Payload.Prompt, job.Payload.NegativePrompt); err != nil {
			return nil, &domain.SubmissionRejectedError{Reason: err.Error()}
		}
		g.InjectPreset(tier)
		g.InjectSampling(0, 0)

		res, err := p.submitAndWait(ctx, g, job.Timeout)
		if err == nil {
			return p.storeResult(ctx, job, res, tier.Name)
		}
		lastErr = err

		if !downgradeWorthy(err) {
			return nil, err
		}
		if i == len(attempts)-1 {
			break
		}
		observability.PresetDowngrades.Inc()
		p.logger.Warn().Err(err).Str("preset", tier.Name).Msg("pipeline: resource exhaustion, retrying with cheaper preset")
	}
	return nil, lastErr
}

func (p *Pipeline) submitAndWait(ctx context.Context, g workflow.Graph, timeout time.Duration) (*engine.Result, error) {
	handle, err := p.submit(ctx, g)
	if err != nil {
		return nil, err
	}
	return p.engine.WaitForResult(ctx, handle, timeout, p.wait)
}

func (p *Pipeline) submit(ctx context.Context, g workflow.Graph) (string, error) {
	handle, err := p.engine.Submit(ctx, g)
	if err != nil {
		observability.EngineSubmissions.WithLabelValues("rejected").Inc()
		return "", err
	}
	observability.EngineSubmissions.WithLabelValues("accepted").Inc()
	return handle, nil
}

// downgradeWorthy decides whether a failure justifies retrying the same job
// at a cheaper preset: either the error text matches a known memory-
// exhaustion signature, or the engine silently dropped the job, which is how
// out-of-memory kills usually surface.
func downgradeWorthy(err error) bool {
	if preset.IsResourceExhaustion(err.Error()) {
		return true
	}
	var silent *domain.SilentFailureError
	return errors.As(err, &silent)
}

func (p *Pipeline) selectModels(ctx context.Context, g workflow.Graph, name string) error {
	if inputs := g.InputsWith("ckpt_name"); len(inputs) > 0 {
		available := p.engine.ListOptions(ctx, "CheckpointLoaderSimple", "ckpt_name")
		chosen, err := workflow.ChooseCheckpoint(available, name, g.CurrentValue("ckpt_name"))
		if err != nil {
			return err
		}
		if chosen != "" {
			for _, in := range inputs {
				in["ckpt_name"] = chosen
			}
			p.logger.Debug().Str("workflow", name).Str("checkpoint", chosen).Msg("pipeline: checkpoint selected")
		}
	}
	if inputs := g.InputsWith("unet_name"); len(inputs) > 0 {
		available := p.engine.ListOptions(ctx, "UNETLoader", "unet_name")
		chosen, err := workflow.ChooseUnet(available, name, g.CurrentValue("unet_name"))
		if err != nil {
			return err
		}
		for _, in := range inputs {
			in["unet_name"] = chosen
		}
		p.logger.Debug().Str("workflow", name).Str("unet", chosen).Msg("pipeline: unet selected")
	}
	return nil
}

func (p *Pipeline) storeResult(ctx context.Context, job *domain.Job, res *engine.Result, presetName string) (*domain.JobResult, error) {
	out := &domain.JobResult{
		Filename:   res.Filename,
		MIME:       res.MIME,
		Size:       int64(len(res.Data)),
		PresetName: presetName,
	}
	if p.store != nil {
		category := "images"
		if job.Kind == domain.JobKindVideo {
			category = "videos"
		}
		key := fmt.Sprintf("generated/%s/%s/%s", category, job.ID, path.Base(res.Filename))
		storedKey, err := p.store.Write(ctx, key, res.Data)
		if err != nil {
			return nil, err
		}
		out.StorageKey = storedKey
	}
	return out, nil
}

func applySamplingDefaults(g workflow.Graph, name string) {
	switch {
	case strings.Contains(name, "flux_dev"):
		g.InjectSampling(28, 1.0)
		g.InjectResolution(1024, 1024)
	case strings.Contains(name, "flux_schnell"):
		g.InjectSampling(4, 1.0)
		g.InjectResolution(1024, 1024)
	case strings.Contains(name, "sdxl"):
		g.InjectSampling(20, 7.5)
		g.InjectResolution(1024, 1024)
	default:
		g.InjectSampling(0, 0)
	}
}
