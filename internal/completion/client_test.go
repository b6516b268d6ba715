package completion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/influix/influix/internal/provider"
)

// scriptedProvider fails the first `failures` calls and then succeeds.
type scriptedProvider struct {
	mu       sync.Mutex
	failures int
	calls    int
	requests []provider.Request
	content  string
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Chat(_ context.Context, req provider.Request) (provider.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.requests = append(p.requests, req)
	if p.calls <= p.failures {
		return provider.Response{}, errors.New("503 service unavailable")
	}
	return provider.Response{
		Content: p.content,
		Usage:   provider.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10},
	}, nil
}

func TestComplete_RetriesThenSucceeds(t *testing.T) {
	p := &scriptedProvider{failures: 2, content: `{"ok":true}`}
	base := 20 * time.Millisecond
	c := New(p, Defaults{BaseDelay: base})

	res := c.Complete(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}}, Options{})

	require.True(t, res.Success, "error: %s", res.Error)
	assert.Equal(t, `{"ok":true}`, res.Content)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 3, res.Attempts)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 10, res.Usage.TotalTokens)
	// Waits of base×1 and base×2 happened between the three attempts.
	assert.GreaterOrEqual(t, res.LatencyMs, (2 * base).Milliseconds())
}

func TestComplete_ExhaustsRetries(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	c := New(p, Defaults{MaxRetries: 3, BaseDelay: time.Millisecond})

	res := c.Complete(context.Background(), nil, Options{})

	assert.False(t, res.Success)
	assert.Equal(t, 3, p.calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "503 service unavailable", res.Error)
	assert.Empty(t, res.Content)
	assert.Nil(t, res.Usage)
}

func TestComplete_PerCallRetryOverride(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	c := New(p, Defaults{BaseDelay: time.Millisecond})

	res := c.Complete(context.Background(), nil, Options{MaxRetries: 1})

	assert.False(t, res.Success)
	assert.Equal(t, 1, p.calls)
}

func TestComplete_SuccessIsNotRetried(t *testing.T) {
	p := &scriptedProvider{content: "not json at all"}
	c := New(p, Defaults{})

	res := c.Complete(context.Background(), nil, Options{JSONMode: true})

	assert.True(t, res.Success)
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "not json at all", res.Content)
}

func TestComplete_AppliesDefaults(t *testing.T) {
	p := &scriptedProvider{content: "{}"}
	c := New(p, Defaults{})

	c.Complete(context.Background(), nil, Options{JSONMode: true})

	require.Len(t, p.requests, 1)
	req := p.requests[0]
	assert.Equal(t, DefaultModel, req.Model)
	assert.InDelta(t, DefaultTemperature, req.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxTokens, req.MaxTokens)
	assert.True(t, req.JSONMode)
}

func TestComplete_OptionsOverrideDefaults(t *testing.T) {
	p := &scriptedProvider{content: "{}"}
	c := New(p, Defaults{Model: "base-model"})

	zero := 0.0
	c.Complete(context.Background(), nil, Options{Model: "other", Temperature: &zero, MaxTokens: 256})

	req := p.requests[0]
	assert.Equal(t, "other", req.Model)
	assert.Zero(t, req.Temperature)
	assert.Equal(t, 256, req.MaxTokens)
	assert.False(t, req.JSONMode)
}

func TestComplete_CancelStopsBackoff(t *testing.T) {
	p := &scriptedProvider{failures: 100}
	c := New(p, Defaults{MaxRetries: 5, BaseDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan Result, 1)
	go func() { done <- c.Complete(ctx, nil, Options{}) }()

	select {
	case res := <-done:
		assert.False(t, res.Success)
		assert.Equal(t, 1, p.calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Complete did not return after context cancellation")
	}
}

func TestComplete_ConcurrentCallsIndependent(t *testing.T) {
	p := &scriptedProvider{content: "{}"}
	c := New(p, Defaults{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := c.Complete(context.Background(), nil, Options{})
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()
	assert.Equal(t, 8, p.calls)
}
