package insight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/storage"
)

type mockProcessor struct {
	mu        sync.Mutex
	ids       []string
	abandoned []string
	err       error
	seen      atomic.Int32
}

func (m *mockProcessor) Process(_ context.Context, insightID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, insightID)
	m.seen.Add(1)
	return m.err
}

func (m *mockProcessor) Abandon(insightID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abandoned = append(m.abandoned, insightID)
	return nil
}

func enqueue(t *testing.T, s *storage.Store, id, payload string) {
	t.Helper()
	require.NoError(t, s.EnqueueJob(storage.Job{ID: id, Type: JobTypeGenerate, PayloadJSON: payload}))
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", `{"insight_id":"ins-1"}`)
	proc := &mockProcessor{}
	w := NewWorker(store, proc, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)
	assert.Equal(t, []string{"ins-1"}, proc.ids)

	counts, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["completed"])
}

func TestWorker_NoJobs(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockProcessor{}, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, didWork)
}

func TestWorker_ProcessErrorRequeues(t *testing.T) {
	store := openTestStore(t)
	enqueue(t, store, "job-1", `{"insight_id":"ins-1"}`)
	proc := &mockProcessor{err: errors.New("database is locked")}
	w := NewWorker(store, proc, 0, 1)

	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	counts, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["pending"], "failed job should be rescheduled with backoff")
	assert.Empty(t, proc.abandoned, "insight must stay generating while retries remain")
}

func TestWorker_LastAttemptAbandonsInsight(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnqueueJob(storage.Job{ID: "job-1", Type: JobTypeGenerate, PayloadJSON: `{"insight_id":"ins-1"}`, MaxAttempts: 1}))
	proc := &mockProcessor{err: errors.New("database is locked")}
	w := NewWorker(store, proc, 0, 1)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ins-1"}, proc.abandoned)

	counts, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["failed"])
}

func TestWorker_InterruptedRunsFailInsightOnceJobIsDead(t *testing.T) {
	store := openTestStore(t)
	seedContent(t, store, "")
	m := NewManager(store, &fakeAnalyzer{outcome: successOutcome()}, prompts.Default(), Config{JobAttempts: 1})

	ins, err := m.RequestAnalysis(context.Background(), "content-1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := NewWorker(store, m, 0, 1)
	didWork, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, didWork)

	counts, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["failed"])

	got, err := store.GetInsight(ins.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.InsightFailed, got.Status)
	assert.Contains(t, got.FailureReason, "gave up after 1 attempts")

	content, err := store.GetContent("content-1")
	require.NoError(t, err)
	assert.Equal(t, storage.ContentFailed, content.Status)
	assert.NotNil(t, content.LastAnalyzedAt)

	// A dead insight can be regenerated.
	fresh, err := m.Regenerate(context.Background(), ins.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.InsightGenerating, fresh.Status)
}

func TestWorker_BadPayload(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.EnqueueJob(storage.Job{ID: "job-1", Type: JobTypeGenerate, PayloadJSON: `{}`, MaxAttempts: 1}))
	proc := &mockProcessor{}
	w := NewWorker(store, proc, 0, 1)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, proc.ids)

	counts, err := store.CountJobs()
	require.NoError(t, err)
	assert.Equal(t, 1, counts["failed"])
}

func TestWorker_RunDrainsQueueConcurrently(t *testing.T) {
	store := openTestStore(t)
	for _, id := range []string{"a", "b", "c", "d"} {
		enqueue(t, store, "job-"+id, `{"insight_id":"`+id+`"}`)
	}
	proc := &mockProcessor{}
	w := NewWorker(store, proc, 10*time.Millisecond, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return proc.seen.Load() == 4 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWorker_EndToEndWithManager(t *testing.T) {
	store := openTestStore(t)
	seedContent(t, store, "")
	m := NewManager(store, &fakeAnalyzer{outcome: successOutcome()}, prompts.Default(), Config{})

	ins, err := m.RequestAnalysis(context.Background(), "content-1", "")
	require.NoError(t, err)

	w := NewWorker(store, m, 0, 1)
	didWork, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, didWork)

	got, err := store.GetInsight(ins.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.InsightComplete, got.Status)
}
