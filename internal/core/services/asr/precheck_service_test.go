package asr

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	asrDomain "brokle/internal/core/domain/asr"
	"brokle/pkg/ulid"
)

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks []*asrDomain.Task
}

func newFakeTaskRepo(tasks ...*asrDomain.Task) *fakeTaskRepo {
	return &fakeTaskRepo{tasks: tasks}
}

func (r *fakeTaskRepo) Create(ctx context.Context, task *asrDomain.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return nil
}

func (r *fakeTaskRepo) GetByID(ctx context.Context, id ulid.ULID) (*asrDomain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, asrDomain.ErrTaskNotFound
}

func (r *fakeTaskRepo) FindActiveByUserAndHash(ctx context.Context, userID ulid.ULID, contentHash string) ([]*asrDomain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*asrDomain.Task
	for _, t := range r.tasks {
		if t.UserID == userID && t.ContentHash == contentHash && t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTaskRepo) UpdateStatus(ctx context.Context, id ulid.ULID, status asrDomain.TaskStatus, stage string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tasks {
		if t.ID == id {
			t.Status = status
			t.Stage = stage
			t.Progress = progress
			return nil
		}
	}
	return asrDomain.ErrTaskNotFound
}

type fakeVideoProbe struct {
	err error
}

func (p fakeVideoProbe) Probe(ctx context.Context, sourceURL string) error { return p.err }

type fakePublisher struct {
	mu   sync.Mutex
	jobs []asrDomain.JobDescriptor
}

func (p *fakePublisher) PublishJob(ctx context.Context, job asrDomain.JobDescriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs = append(p.jobs, job)
	return nil
}

func newTestPrecheck(tasks *fakeTaskRepo, pricing *fakePricingRepo, periods *fakePeriodRepo, quotas *fakeQuotaRepo, registry asrDomain.ProviderRegistry, scheduler asrDomain.Scheduler, probe asrDomain.VideoProbe, pub *fakePublisher) asrDomain.PrecheckGate {
	return NewPrecheckService(tasks, pricing, periods, quotas, registry, scheduler, probe, pub, testLogger())
}

func TestCreateTask_UploadMissingContentHash(t *testing.T) {
	tasks := newFakeTaskRepo()
	pricing := newFakePricingRepo()
	registry := NewProviderRegistry()
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	_, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:     ulid.New(),
		SourceType: asrDomain.SourceTypeUpload,
		FileKey:    &fileKey,
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindMissingRequiredParameter, asrDomain.KindOf(err))
}

func TestCreateTask_YouTubeInvalidHost(t *testing.T) {
	tasks := newFakeTaskRepo()
	pricing := newFakePricingRepo()
	registry := NewProviderRegistry()
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	url := "https://example.com/not-a-video"
	_, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:     ulid.New(),
		SourceType: asrDomain.SourceTypeYouTube,
		SourceURL:  &url,
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindInvalidURLFormat, asrDomain.KindOf(err))
}

func TestCreateTask_DuplicateCompletedTaskRejected(t *testing.T) {
	userID := ulid.New()
	hash := "deadbeef"
	existing := &asrDomain.Task{ID: ulid.New(), UserID: userID, ContentHash: hash, Status: asrDomain.TaskStatusCompleted}
	tasks := newFakeTaskRepo(existing)
	pricing := newFakePricingRepo()
	registry := NewProviderRegistry()
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	_, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:      userID,
		SourceType:  asrDomain.SourceTypeUpload,
		FileKey:     &fileKey,
		ContentHash: &hash,
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindTaskAlreadyExists, asrDomain.KindOf(err))
}

func TestCreateTask_DuplicateProcessingTaskRejected(t *testing.T) {
	userID := ulid.New()
	hash := "deadbeef"
	existing := &asrDomain.Task{ID: ulid.New(), UserID: userID, ContentHash: hash, Status: asrDomain.TaskStatusProcessing}
	tasks := newFakeTaskRepo(existing)
	pricing := newFakePricingRepo()
	registry := NewProviderRegistry()
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	_, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:      userID,
		SourceType:  asrDomain.SourceTypeUpload,
		FileKey:     &fileKey,
		ContentHash: &hash,
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindTaskInProgress, asrDomain.KindOf(err))
}

func TestCreateTask_PinnedProviderDisabledRejected(t *testing.T) {
	tasks := newFakeTaskRepo()
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file", IsEnabled: false,
	})
	registry := NewProviderRegistry(ProviderEntry{Provider: "tencent", Variant: "file", Capability: fakeCapability{}})
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	hash := "abc123"
	_, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:      ulid.New(),
		SourceType:  asrDomain.SourceTypeUpload,
		FileKey:     &fileKey,
		ContentHash: &hash,
		Options:     asrDomain.TaskOptions{"asr_provider": "tencent"},
	})
	require.Error(t, err)
	assert.Equal(t, asrDomain.KindProviderDisabled, asrDomain.KindOf(err))
}

func TestCreateTask_SuccessPublishesJob(t *testing.T) {
	tasks := newFakeTaskRepo()
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file", IsEnabled: true,
	})
	registry := NewProviderRegistry(ProviderEntry{Provider: "tencent", Variant: "file", Capability: fakeCapability{}})
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	hash := "abc123"
	task, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:      ulid.New(),
		SourceType:  asrDomain.SourceTypeUpload,
		FileKey:     &fileKey,
		ContentHash: &hash,
		Options:     asrDomain.TaskOptions{"asr_provider": "tencent"},
	})
	require.NoError(t, err)
	assert.Equal(t, asrDomain.TaskStatusQueued, task.Status)
	require.Len(t, pub.jobs, 1)
	assert.Equal(t, task.ID, pub.jobs[0].TaskID)
	assert.Equal(t, "tencent", pub.jobs[0].Provider)
}

func TestCreateTask_AdminBypassesQuotaPrecheck(t *testing.T) {
	tasks := newFakeTaskRepo()
	pricing := newFakePricingRepo(&asrDomain.PricingConfig{
		Provider: "tencent", Variant: "file", IsEnabled: false,
	})
	registry := NewProviderRegistry()
	pub := &fakePublisher{}

	gate := newTestPrecheck(tasks, pricing, newFakePeriodRepo(), newFakeQuotaRepo(), registry, nil, nil, pub)

	fileKey := "uploads/a.wav"
	hash := "abc123"
	task, err := gate.CreateTask(context.Background(), asrDomain.CreateTaskRequest{
		UserID:      ulid.New(),
		IsAdmin:     true,
		SourceType:  asrDomain.SourceTypeUpload,
		FileKey:     &fileKey,
		ContentHash: &hash,
		Options:     asrDomain.TaskOptions{"asr_provider": "tencent"},
	})
	require.NoError(t, err)
	assert.NotNil(t, task)
}
