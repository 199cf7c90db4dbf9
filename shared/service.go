package shared

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// JobService coordinates the metadata cache, the job queue and the registry
// on behalf of API clients.
type JobService struct {
	cache    MetadataCache
	queue    JobQueue
	registry JobRegistry
	fetcher  Fetcher
	poller   *StatusPoller
	validate *validator.Validate

	allowedHosts   []string
	maxDuration    time.Duration
	defaultTimeout time.Duration
	now            func() time.Time
	logger         zerolog.Logger
}

// ServiceOptions carries the submission policy taken from Config.
type ServiceOptions struct {
	AllowedHosts []string
	// MaxDuration rejects media longer than this when its metadata is known. Zero disables the check.
	MaxDuration  time.Duration
	PollInterval time.Duration
	WatchTimeout time.Duration
}

func ServiceOptionsFromConfig(cfg *Config) ServiceOptions {
	return ServiceOptions{
		AllowedHosts: cfg.AllowedVideoHosts,
		MaxDuration:  time.Duration(cfg.MaxVideoDurationSeconds) * time.Second,
		PollInterval: cfg.PollInterval,
		WatchTimeout: cfg.WatchTimeout,
	}
}

func NewJobService(cache MetadataCache, queue JobQueue, registry JobRegistry, fetcher Fetcher, opts ServiceOptions) *JobService {
	if opts.WatchTimeout <= 0 {
		opts.WatchTimeout = 5 * time.Minute
	}
	return &JobService{
		cache:          cache,
		queue:          queue,
		registry:       registry,
		fetcher:        fetcher,
		poller:         NewStatusPoller(registry, opts.PollInterval),
		validate:       validator.New(),
		allowedHosts:   opts.AllowedHosts,
		maxDuration:    opts.MaxDuration,
		defaultTimeout: opts.WatchTimeout,
		now:            time.Now,
		logger:         componentLogger("JobService"),
	}
}

// Info returns metadata for the URL, consulting the cache before the fetcher.
// cached reports whether the value came from the cache.
func (s *JobService) Info(ctx context.Context, rawURL string) (meta Metadata, cached bool, err error) {
	if err := s.validateURL(rawURL); err != nil {
		return Metadata{}, false, err
	}

	if meta, found := s.cache.Get(ctx, rawURL); found {
		return meta, true, s.checkDuration(meta)
	}

	meta, err = s.fetcher.FetchMetadata(ctx, rawURL)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("could not retrieve media information: %w", err)
	}
	s.cache.Put(ctx, rawURL, meta)
	return meta, false, s.checkDuration(meta)
}

func (s *JobService) Formats(kind string) ([]FormatDescriptor, error) {
	k, err := ParseMediaKind(kind)
	if err != nil {
		return nil, err
	}
	return s.fetcher.ListFormats(k), nil
}

// Submit validates the request, records a Pending status and enqueues the
// job. It never waits for a worker.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	req.URL = strings.TrimSpace(req.URL)
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	req.Priority = strings.ToLower(strings.TrimSpace(req.Priority))

	if err := s.validate.Struct(req); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}
	if err := s.validateURL(req.URL); err != nil {
		return "", err
	}

	kind, err := ParseMediaKind(req.Kind)
	if err != nil {
		return "", err
	}
	priority, err := ParsePriority(req.Priority)
	if err != nil {
		return "", err
	}
	if !s.formatSupported(kind, req.Format) {
		return "", fmt.Errorf("%w: format %q is not available for %s", ErrInvalidInput, req.Format, kind)
	}
	// Only metadata already in the cache is checked; submission never fetches.
	if meta, found := s.cache.Get(ctx, req.URL); found {
		if err := s.checkDuration(meta); err != nil {
			return "", err
		}
	}

	job := MediaJob{
		ID:          uuid.New().String(),
		URL:         req.URL,
		Kind:        kind,
		Format:      req.Format,
		Priority:    priority,
		SubmittedAt: s.now(),
	}

	// 1. Store initial job status in the registry
	if _, err := s.registry.Create(ctx, job); err != nil {
		return "", fmt.Errorf("failed to initialize job: %w", err)
	}

	// 2. Publish job to its priority lane
	if err := s.queue.Publish(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to publish job to queue")
		// Mark job as failed since it couldn't be queued
		reason := fmt.Sprintf("Failed to queue job: %v", err)
		if _, uerr := s.registry.Update(context.WithoutCancel(ctx), job.ID, MarkFailed(reason, s.now())); uerr != nil {
			s.logger.Error().Err(uerr).Str("job_id", job.ID).Msg("Failed to mark unqueued job as failed")
		}
		return job.ID, fmt.Errorf("failed to submit job %s: %w", job.ID, err)
	}

	JobsSubmitted.WithLabelValues(priority.String(), string(kind)).Inc()
	s.logger.Info().Str("job_id", job.ID).Str("url", job.URL).Stringer("priority", priority).Msg("Job queued")
	return job.ID, nil
}

func (s *JobService) Status(ctx context.Context, jobID string) (JobStatus, error) {
	return s.registry.Get(ctx, jobID)
}

func (s *JobService) Jobs(ctx context.Context) ([]JobStatus, error) {
	return s.registry.All(ctx)
}

// Watch observes a job until it is terminal or timeout elapses. A timeout of
// zero uses the configured default.
func (s *JobService) Watch(ctx context.Context, jobID string, onUpdate func(Progress), timeout time.Duration) (WatchResult, error) {
	if timeout <= 0 {
		timeout = s.defaultTimeout
	}
	return s.poller.Watch(ctx, jobID, onUpdate, timeout)
}

// QueueDepths reports the waiting jobs per lane, keyed by priority name.
func (s *JobService) QueueDepths(ctx context.Context) (map[string]int, error) {
	depths := make(map[string]int, numPriorities)
	for _, p := range Priorities {
		n, err := s.queue.Len(ctx, p)
		if err != nil {
			return nil, err
		}
		depths[p.String()] = n
	}
	return depths, nil
}

func (s *JobService) validateURL(rawURL string) error {
	if err := s.validate.Var(rawURL, "required,url"); err != nil {
		return fmt.Errorf("%w: %q is not a valid URL", ErrInvalidInput, rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q is not a valid http(s) URL", ErrInvalidInput, rawURL)
	}
	if !hostAllowed(u.Hostname(), s.allowedHosts) {
		return fmt.Errorf("%w: host %q is not supported", ErrInvalidInput, u.Hostname())
	}
	return nil
}

func (s *JobService) formatSupported(kind MediaKind, format string) bool {
	for _, f := range s.fetcher.ListFormats(kind) {
		if f.ID == format {
			return true
		}
	}
	return false
}

func (s *JobService) checkDuration(meta Metadata) error {
	if s.maxDuration > 0 && time.Duration(meta.Duration*float64(time.Second)) > s.maxDuration {
		return fmt.Errorf("%w: media is %.0fs long, limit is %.0fs", ErrInvalidInput, meta.Duration, s.maxDuration.Seconds())
	}
	return nil
}

// hostAllowed matches host against the allow-list, accepting subdomains.
// An empty list allows every host.
func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(a)
		if a == "*" || host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
