package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"triviaapp/internal/config"
	"triviaapp/internal/models"
	"triviaapp/internal/notifications"
	"triviaapp/internal/observability"
	"triviaapp/internal/services"
	contextutils "triviaapp/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGenerator produces scripted batches, one per call
type fakeGenerator struct {
	mu      sync.Mutex
	batches [][]models.Question
	errs    []error
	calls   int
}

func (f *fakeGenerator) GenerateQuestions(_ context.Context, req services.GenerationRequest) ([]models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.errs) && f.errs[call] != nil {
		return nil, f.errs[call]
	}
	if call < len(f.batches) {
		return f.batches[call], nil
	}
	// Default: produce unique questions on demand
	batch := make([]models.Question, 0, req.Count)
	for i := 0; i < req.Count; i++ {
		prompt := fmt.Sprintf("question %d-%d", call, i)
		batch = append(batch, models.Question{
			Prompt:  prompt,
			Options: []string{"a", "b"},
			Answer:  "a",
			Topic:   req.Topic,
		})
	}
	return batch, nil
}

// fakeQuestionStore deduplicates on content hash in memory
type fakeQuestionStore struct {
	mu     sync.Mutex
	hashes map[string]bool
	nextID int
}

func newFakeQuestionStore() *fakeQuestionStore {
	return &fakeQuestionStore{hashes: make(map[string]bool)}
}

func (f *fakeQuestionStore) SaveGeneratedQuestion(_ context.Context, q *models.Question) (*models.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hash := q.Prompt + "|" + q.Answer
	if f.hashes[hash] {
		return nil, contextutils.ErrRecordExists
	}
	f.hashes[hash] = true
	f.nextID++
	q.ID = f.nextID
	return q, nil
}

func (f *fakeQuestionStore) ImportQuestions(context.Context, []models.Question) (*models.ImportResult, error) {
	panic("not used")
}
func (f *fakeQuestionStore) FetchUnseen(context.Context, int, int, models.QuestionFilters) ([]models.Question, error) {
	panic("not used")
}
func (f *fakeQuestionStore) CountAvailable(context.Context, int, models.QuestionFilters) (int, error) {
	panic("not used")
}
func (f *fakeQuestionStore) CountTotal(context.Context) (int, error) { panic("not used") }
func (f *fakeQuestionStore) MarkSeen(context.Context, int, int) error {
	panic("not used")
}
func (f *fakeQuestionStore) GetQuestion(context.Context, int) (*models.Question, error) {
	panic("not used")
}

type poolFixture struct {
	pool     *Pool
	registry services.JobRegistry
	hub      *notifications.Hub
	metrics  *services.MetricsService
	store    *fakeQuestionStore
}

func newPoolFixture(t *testing.T, generator services.GenerationServiceInterface) *poolFixture {
	t.Helper()
	logger := observability.NewTestLogger()
	cfg := &config.GenerationConfig{
		Workers:                2,
		QueueSize:              8,
		AttemptMultiplier:      3,
		MinAttempts:            10,
		MaxConsecutiveFailures: 3,
	}
	registry := services.NewMemoryJobRegistry(logger)
	hub := notifications.NewHub(logger)
	t.Cleanup(hub.Close)
	metrics := services.NewMetricsService()
	store := newFakeQuestionStore()
	pool := NewPool(cfg, registry, store, generator, hub, metrics, logger)
	return &poolFixture{pool: pool, registry: registry, hub: hub, metrics: metrics, store: store}
}

func waitForTerminal(t *testing.T, registry services.JobRegistry, jobID string) *models.GenerationJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := registry.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not reach a terminal state")
	return nil
}

func TestPool_CompletesJob(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 4,
		Topic:       "science",
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))

	finished := waitForTerminal(t, fixture.registry, job.ID)
	assert.Equal(t, models.JobCompleted, finished.Status)
	assert.Equal(t, 4, finished.GeneratedCount)
	assert.Equal(t, 0, finished.DuplicateCount)

	snapshot := fixture.metrics.Snapshot()
	assert.Equal(t, int64(1), snapshot.JobsCompleted)
	assert.Equal(t, int64(4), snapshot.QuestionsGenerated)
}

func TestPool_CountsDuplicates(t *testing.T) {
	same := models.Question{Prompt: "same question", Options: []string{"a", "b"}, Answer: "a"}
	generator := &fakeGenerator{
		batches: [][]models.Question{
			{same, same, same},
		},
	}
	fixture := newPoolFixture(t, generator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 3,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))

	finished := waitForTerminal(t, fixture.registry, job.ID)
	assert.Equal(t, models.JobCompleted, finished.Status)
	assert.Equal(t, 3, finished.GeneratedCount)
	// First batch yields one insert and two duplicate skips
	assert.GreaterOrEqual(t, finished.DuplicateCount, 2)
	assert.GreaterOrEqual(t, fixture.metrics.Snapshot().DuplicatesSkipped, int64(2))
}

func TestPool_FailsAfterConsecutiveProviderFailures(t *testing.T) {
	providerErr := contextutils.ErrGenerationRequestFailed
	generator := &fakeGenerator{
		errs: []error{providerErr, providerErr, providerErr},
	}
	fixture := newPoolFixture(t, generator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))

	finished := waitForTerminal(t, fixture.registry, job.ID)
	assert.Equal(t, models.JobFailed, finished.Status)
	assert.Equal(t, 0, finished.GeneratedCount)
	assert.Equal(t, int64(1), fixture.metrics.Snapshot().JobsFailed)
}

func TestPool_PartialGenerationStillCompletes(t *testing.T) {
	providerErr := contextutils.ErrGenerationRequestFailed
	generator := &fakeGenerator{
		batches: [][]models.Question{
			{{Prompt: "only one", Options: []string{"a", "b"}, Answer: "a"}},
		},
		errs: []error{nil, providerErr, providerErr, providerErr},
	}
	fixture := newPoolFixture(t, generator)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 5,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))

	finished := waitForTerminal(t, fixture.registry, job.ID)
	assert.Equal(t, models.JobCompleted, finished.Status)
	assert.Equal(t, 1, finished.GeneratedCount)
}

func TestPool_PublishesEvents(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := fixture.hub.Subscribe(1)
	fixture.pool.Start(ctx)

	job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
		OwnerUserID: 1,
		TargetCount: 2,
		Trigger:     models.TriggerManual,
	})
	require.NoError(t, err)
	require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))

	waitForTerminal(t, fixture.registry, job.ID)

	var types []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case event := <-sub.Events():
			types = append(types, event.Type)
			if event.Type == models.JobEventStatus && event.Job.Status.IsTerminal() {
				assert.Contains(t, types, models.JobEventProgress)
				return
			}
		case <-timeout:
			t.Fatalf("did not observe a terminal status event, saw %v", types)
		}
	}
}

func TestPool_EnqueueFullQueue(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	// Pool not started: queue fills up
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		require.NoError(t, fixture.pool.Enqueue(ctx, fmt.Sprintf("job-%d", i)))
	}
	err := fixture.pool.Enqueue(ctx, "overflow")
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeServiceUnavailable, contextutils.GetErrorCode(err))
}

func TestPool_EnqueueAfterStop(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)
	require.NoError(t, fixture.pool.Stop(context.Background()))

	err := fixture.pool.Enqueue(ctx, "late")
	require.Error(t, err)
	assert.Equal(t, contextutils.ErrorCodeServiceUnavailable, contextutils.GetErrorCode(err))

	// Stop is idempotent
	require.NoError(t, fixture.pool.Stop(context.Background()))
}

func TestPool_StopDrainsInFlightWork(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	jobIDs := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
			OwnerUserID: 1,
			TargetCount: 2,
			Trigger:     models.TriggerAuto,
		})
		require.NoError(t, err)
		require.NoError(t, fixture.pool.Enqueue(ctx, job.ID))
		jobIDs = append(jobIDs, job.ID)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, fixture.pool.Stop(stopCtx))

	for _, id := range jobIDs {
		job, err := fixture.registry.Get(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, job.Status.IsTerminal(), "job %s left in %s", id, job.Status)
	}
}

func TestPool_ConcurrentEnqueueDuringStop(t *testing.T) {
	fixture := newPoolFixture(t, &fakeGenerator{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fixture.pool.Start(ctx)

	jobIDs := make([]string, 0, 32)
	for i := 0; i < 32; i++ {
		job, err := fixture.registry.Create(ctx, models.GenerationJobSpec{
			OwnerUserID: 1,
			TargetCount: 1,
			Trigger:     models.TriggerAuto,
		})
		require.NoError(t, err)
		jobIDs = append(jobIDs, job.ID)
	}

	// Enqueues racing Stop must fail cleanly, never panic on a closed queue
	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, id := range jobIDs {
		wg.Add(1)
		go func(jobID string) {
			defer wg.Done()
			<-start
			if err := fixture.pool.Enqueue(context.Background(), jobID); err != nil {
				assert.True(t, contextutils.IsError(err, contextutils.ErrServiceUnavailable))
			}
		}(id)
	}

	close(start)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, fixture.pool.Stop(stopCtx))
	wg.Wait()

	err := fixture.pool.Enqueue(context.Background(), jobIDs[0])
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrServiceUnavailable))
}
