package asr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

// precheckService implements asr.PrecheckGate (§4.E, component E).
type precheckService struct {
	taskRepo    asrDomain.TaskRepository
	pricingRepo asrDomain.PricingRepository
	periodRepo  asrDomain.PeriodRepository
	quotaRepo   asrDomain.QuotaRepository
	registry    asrDomain.ProviderRegistry
	scheduler   asrDomain.Scheduler
	videoProbe  asrDomain.VideoProbe
	publisher   asrDomain.JobPublisher
	logger      *slog.Logger
}

// NewPrecheckService constructs the task-creation pre-check gate.
func NewPrecheckService(
	taskRepo asrDomain.TaskRepository,
	pricingRepo asrDomain.PricingRepository,
	periodRepo asrDomain.PeriodRepository,
	quotaRepo asrDomain.QuotaRepository,
	registry asrDomain.ProviderRegistry,
	scheduler asrDomain.Scheduler,
	videoProbe asrDomain.VideoProbe,
	publisher asrDomain.JobPublisher,
	logger *slog.Logger,
) asrDomain.PrecheckGate {
	return &precheckService{
		taskRepo:    taskRepo,
		pricingRepo: pricingRepo,
		periodRepo:  periodRepo,
		quotaRepo:   quotaRepo,
		registry:    registry,
		scheduler:   scheduler,
		videoProbe:  videoProbe,
		publisher:   publisher,
		logger:      logger,
	}
}

var videoHostSuffixes = []string{
	"youtube.com", "youtu.be", "m.youtube.com",
	"bilibili.com", "b23.tv",
}

// CreateTask implements asr.PrecheckGate.CreateTask (§4.E).
func (s *precheckService) CreateTask(ctx context.Context, req asrDomain.CreateTaskRequest) (*asrDomain.Task, error) {
	task, err := s.createTask(ctx, req)
	if err != nil {
		if kind := asrDomain.KindOf(err); kind != "" {
			observePrecheckRejection(string(kind))
		}
		return nil, err
	}
	return task, nil
}

func (s *precheckService) createTask(ctx context.Context, req asrDomain.CreateTaskRequest) (*asrDomain.Task, error) {
	descriptor, err := s.validateSource(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := s.checkDuplicate(ctx, req.UserID, descriptor.ContentHash); err != nil {
		return nil, err
	}

	variant := asrVariant(req.Options)
	if !req.IsAdmin {
		if err := s.quotaPrecheck(ctx, req, variant); err != nil {
			return nil, err
		}
	}

	task := &asrDomain.Task{
		ID:          ulid.New(),
		UserID:      req.UserID,
		ContentHash: descriptor.ContentHash,
		SourceType:  descriptor.SourceType,
		Status:      asrDomain.TaskStatusQueued,
		Stage:       "queued",
		Progress:    1,
		Options:     req.Options,
	}
	if descriptor.FileKey != "" {
		task.FileKey = &descriptor.FileKey
	}
	if descriptor.SourceURL != "" {
		task.SourceURL = &descriptor.SourceURL
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}

	job := asrDomain.JobDescriptor{
		TaskID:    task.ID,
		UserID:    task.UserID,
		Variant:   variant,
		SourceURL: task.SourceURL,
		FileKey:   task.FileKey,
		Features:  req.Options.Features(),
		QueuedAt:  time.Now().UTC(),
	}
	if provider := req.Options.ASRProvider(); provider != nil {
		job.Provider = *provider
	}

	if err := s.publisher.PublishJob(ctx, job); err != nil {
		return nil, fmt.Errorf("publish job for task %s: %w", task.ID, err)
	}

	s.logger.Info("task queued", "task_id", task.ID.String(), "user_id", task.UserID.String())
	return task, nil
}

// validateSource implements §4.E step 1 and the §6 task-creation validation rules.
func (s *precheckService) validateSource(ctx context.Context, req asrDomain.CreateTaskRequest) (asrDomain.SourceDescriptor, error) {
	switch req.SourceType {
	case asrDomain.SourceTypeUpload:
		if req.FileKey == nil || *req.FileKey == "" {
			return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrMissingRequiredParameter, "file_key is required for upload source")
		}
		hash := ""
		if req.ContentHash != nil {
			hash = *req.ContentHash
		}
		if hash == "" {
			return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrMissingRequiredParameter, "content_hash is required for upload source")
		}
		return asrDomain.SourceDescriptor{
			SourceType:  asrDomain.SourceTypeUpload,
			FileKey:     *req.FileKey,
			ContentHash: hash,
		}, nil

	case asrDomain.SourceTypeYouTube:
		if req.SourceURL == nil || *req.SourceURL == "" {
			return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrMissingRequiredParameter, "source_url is required for video source")
		}
		videoID, ok := parseVideoURL(*req.SourceURL)
		if !ok {
			return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrInvalidURLFormat, "source_url host is not a recognised video platform")
		}

		if s.videoProbe != nil {
			if err := s.videoProbe.Probe(ctx, *req.SourceURL); err != nil {
				return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrExternalVideoUnavailable, err.Error())
			}
		}

		return asrDomain.SourceDescriptor{
			SourceType:  asrDomain.SourceTypeYouTube,
			SourceURL:   *req.SourceURL,
			ContentHash: videoContentHash(videoID),
		}, nil

	default:
		return asrDomain.SourceDescriptor{}, asrDomain.NewTaskError(asrDomain.ErrUnsupportedSourceFormat, string(req.SourceType))
	}
}

// parseVideoURL reports whether rawURL's host matches a recognised video
// platform and extracts a best-effort video id for hashing.
func parseVideoURL(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.ToLower(u.Host)

	matched := false
	for _, suffix := range videoHostSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			matched = true
			break
		}
	}
	if !matched {
		return "", false
	}

	if v := u.Query().Get("v"); v != "" {
		return v, true
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segments) > 0 && segments[len(segments)-1] != "" {
		return segments[len(segments)-1], true
	}
	return rawURL, true
}

// videoContentHash derives the deterministic fingerprint for video-URL
// sources (§6): sha256("youtube:" + video_id).
func videoContentHash(videoID string) string {
	sum := sha256.Sum256([]byte("youtube:" + videoID))
	return hex.EncodeToString(sum[:])
}

// checkDuplicate implements §4.E step 2.
func (s *precheckService) checkDuplicate(ctx context.Context, userID ulid.ULID, contentHash string) error {
	tasks, err := s.taskRepo.FindActiveByUserAndHash(ctx, userID, contentHash)
	if err != nil {
		return fmt.Errorf("check duplicate task: %w", err)
	}

	for _, t := range tasks {
		switch {
		case t.Status == asrDomain.TaskStatusCompleted:
			return asrDomain.NewTaskError(asrDomain.ErrTaskAlreadyExists, "a completed task with this content already exists")
		case t.Status.IsProcessing():
			return asrDomain.NewTaskError(asrDomain.ErrTaskInProgress, "a task with this content is already in progress")
		}
	}
	return nil
}

// quotaPrecheck implements §4.E step 3.
func (s *precheckService) quotaPrecheck(ctx context.Context, req asrDomain.CreateTaskRequest, variant string) error {
	now := time.Now().UTC()

	if pinned := req.Options.ASRProvider(); pinned != nil {
		pricing, err := s.pricingRepo.Get(ctx, *pinned, variant)
		if err != nil || pricing == nil {
			return asrDomain.NewTaskError(asrDomain.ErrProviderNotRegistered, *pinned)
		}
		if !pricing.IsEnabled {
			return asrDomain.NewTaskError(asrDomain.ErrProviderDisabled, *pinned)
		}
		if _, ok := s.registry.Get(*pinned, variant); !ok {
			return asrDomain.NewTaskError(asrDomain.ErrProviderNotRegistered, *pinned)
		}

		hasFree := false
		if pricing.FreeQuotaSeconds > 0 {
			periodType, start, end := derivePeriod(pricing.ResetPeriod, now)
			period, err := s.periodRepo.GetOrCreate(ctx, &req.UserID, *pinned, variant, periodType, start, end)
			if err != nil {
				return fmt.Errorf("load period for pinned provider: %w", err)
			}
			hasFree = period.FreeQuotaUsed < pricing.FreeQuotaSeconds
		}
		if hasFree {
			return nil
		}

		rows, err := s.quotaRepo.ListCovering(ctx, req.UserID, *pinned, variant, now)
		if err != nil {
			return fmt.Errorf("load quota rows for pinned provider: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		effective := effectiveSet(rows, req.UserID)
		for _, row := range effective {
			if row.Status != asrDomain.QuotaRowStatusExhausted && row.QuotaSeconds > 0 && row.UsedSeconds < row.QuotaSeconds {
				return nil
			}
		}
		return asrDomain.NewTaskError(asrDomain.ErrQuotaExhaustedForProvider, *pinned)
	}

	userID := req.UserID
	_, err := s.scheduler.Schedule(ctx, asrDomain.SchedulingRequest{
		UserID:   &userID,
		Variant:  variant,
		Features: req.Options.Features(),
	})
	return err
}

func asrVariant(opts asrDomain.TaskOptions) string {
	if v := opts.ASRVariant(); v != nil {
		return *v
	}
	return "file"
}
