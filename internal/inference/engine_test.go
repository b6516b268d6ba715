package inference

import (
	"context"
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/influix/influix/internal/completion"
	"github.com/influix/influix/internal/prompts"
	"github.com/influix/influix/internal/provider"
	"github.com/influix/influix/internal/schema"
)

type mockCompleter struct {
	mu       sync.Mutex
	result   completion.Result
	calls    int
	messages [][]provider.Message
	opts     []completion.Options
}

func (m *mockCompleter) Complete(_ context.Context, messages []provider.Message, opts completion.Options) completion.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.messages = append(m.messages, messages)
	m.opts = append(m.opts, opts)
	return m.result
}

func succeed(content string) completion.Result {
	return completion.Result{
		Success:   true,
		Content:   content,
		Usage:     &provider.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
		LatencyMs: 42,
		Attempts:  1,
	}
}

func TestAnalyze_MinimalResult(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"summary":"s","whyItWorks":[],"patterns":[],"reuseStrategy":"r"}`)}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "How I saved $10k in a year", nil)

	require.True(t, out.OK(), "failure: %v", out.Failure)
	analysis, ok := out.Analysis()
	require.True(t, ok)
	assert.Equal(t, "s", analysis.Summary)
	assert.Nil(t, analysis.HookAnalysis)
	assert.Equal(t, int64(42), out.LatencyMs)
	assert.Equal(t, 120, out.Usage.TotalTokens)
	assert.Equal(t, TemplateRef{ID: "content-analysis", Version: 1}, out.Template)
	assert.Equal(t, 1, client.calls)
	assert.True(t, client.opts[0].JSONMode)
}

func TestRun_InvalidJSONIsSchemaViolation(t *testing.T) {
	client := &mockCompleter{result: succeed("Sure! Here's my analysis: it is great.")}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "content", nil)

	require.False(t, out.OK())
	assert.Equal(t, ReasonSchemaViolation, out.Failure.Reason)
	assert.Equal(t, schema.NotJSON, out.ViolationKind())
	assert.Nil(t, out.Result)
	assert.Equal(t, 1, client.calls, "schema violations must not re-invoke the model")
}

func TestRun_ContractViolationHasPath(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"summary":"s","whyItWorks":[],"patterns":[],"reuseStrategy":"r","toneAnalysis":{"primary":"calm","consistency":1.5}}`)}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "content", nil)

	require.False(t, out.OK())
	assert.Equal(t, ReasonSchemaViolation, out.Failure.Reason)
	assert.Equal(t, schema.ContractViolation, out.ViolationKind())
	assert.Equal(t, "toneAnalysis.consistency", out.Failure.Violation.Path)
	require.NotNil(t, out.Usage)
}

func TestRun_UnknownTemplate(t *testing.T) {
	client := &mockCompleter{result: succeed("{}")}
	e := New(prompts.Default(), client)

	out := e.Run(context.Background(), "sentiment", "content", nil)

	require.False(t, out.OK())
	assert.Equal(t, ReasonUnknownTemplate, out.Failure.Reason)
	assert.Contains(t, out.Failure.Detail, "sentiment")
	assert.Equal(t, 0, client.calls)
}

func TestRun_ModelError(t *testing.T) {
	client := &mockCompleter{result: completion.Result{Success: false, Error: "401 unauthorized", LatencyMs: 3000, Attempts: 3}}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "content", nil)

	require.False(t, out.OK())
	assert.Equal(t, ReasonModelError, out.Failure.Reason)
	assert.Equal(t, "401 unauthorized", out.Failure.Detail)
	assert.Equal(t, int64(3000), out.LatencyMs)
	assert.Equal(t, 3, out.Attempts)
}

func TestRun_UnencodableMetadataIsInvalidInput(t *testing.T) {
	client := &mockCompleter{result: succeed("{}")}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "content", map[string]any{"views": math.NaN()})

	require.False(t, out.OK())
	assert.Equal(t, ReasonInvalidInput, out.Failure.Reason)
	assert.Equal(t, 0, client.calls, "no model call for a request that cannot be encoded")
}

func TestRun_EmptyReplyIsSchemaViolation(t *testing.T) {
	client := &mockCompleter{result: succeed("")}
	e := New(prompts.Default(), client)

	out := e.Analyze(context.Background(), "content", nil)

	require.False(t, out.OK())
	assert.Equal(t, ReasonSchemaViolation, out.Failure.Reason)
	assert.Equal(t, schema.NotJSON, out.ViolationKind())
	assert.Equal(t, 1, client.calls)
}

func TestRun_HookDetection(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"hookType":"question","strength":"strong","elements":["direct address"],"whyItWorks":"It opens a loop"}`)}
	e := New(prompts.Default(), client)

	out := e.Run(context.Background(), "hook-detection", "Ever wondered why...", nil)

	require.True(t, out.OK(), "failure: %v", out.Failure)
	hook, ok := out.Result.(*schema.HookDetection)
	require.True(t, ok, "result type = %T", out.Result)
	assert.Equal(t, "question", hook.HookType)
	_, isAnalysis := out.Analysis()
	assert.False(t, isAnalysis)
}

func TestRunVersion(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"summary":"s","whyItWorks":[],"patterns":[],"reuseStrategy":"r"}`)}
	e := New(prompts.Default(), client)

	out := e.RunVersion(context.Background(), "content-analysis", 1, "c", nil)
	require.True(t, out.OK())

	out = e.RunVersion(context.Background(), "content-analysis", 99, "c", nil)
	assert.Equal(t, ReasonUnknownTemplate, out.Failure.Reason)
	assert.Equal(t, 1, client.calls)
}

func TestCompare(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"winner":"tie","contentAStrengths":[],"contentBStrengths":[],"keyDifferences":[],"lessonsLearned":["both work"]}`)}
	e := New(prompts.Default(), client)

	out := e.Compare(context.Background(), "first video", "second video", nil)

	require.True(t, out.OK(), "failure: %v", out.Failure)
	cmp := out.Result.(*schema.Comparison)
	assert.Equal(t, "tie", cmp.Winner)

	user := client.messages[0][1].Content
	assert.Contains(t, user, "Content A:\nfirst video")
	assert.Contains(t, user, "Content B:\nsecond video")
}

func TestBuildMessages(t *testing.T) {
	tmpl, err := prompts.Default().Get("content-analysis")
	require.NoError(t, err)

	msgs, err := BuildMessages(tmpl, "the transcript", map[string]any{"platform": "tiktok"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	sys := msgs[0]
	assert.Equal(t, provider.RoleSystem, sys.Role)
	assert.True(t, strings.HasPrefix(sys.Content, tmpl.SystemIntent+"\n\n"+tmpl.AnalysisInstruction))
	assert.Contains(t, sys.Content, "\n\nYou MUST respond with valid JSON matching this exact schema:\n"+tmpl.OutputSchemaDescription)

	user := msgs[1]
	assert.Equal(t, provider.RoleUser, user.Role)
	assert.Equal(t, "Content to analyze:\n---\nthe transcript\n---\n\nAdditional context:\n{\n  \"platform\": \"tiktok\"\n}", user.Content)
}

func TestBuildMessages_NoMetadata(t *testing.T) {
	tmpl, err := prompts.Default().Get("hook-detection")
	require.NoError(t, err)

	msgs, err := BuildMessages(tmpl, "hello", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Content to analyze:\n---\nhello\n---", msgs[1].Content)
}

func TestBuildMessages_UnencodableMetadata(t *testing.T) {
	tmpl, err := prompts.Default().Get("hook-detection")
	require.NoError(t, err)

	_, err = BuildMessages(tmpl, "hello", map[string]any{"ch": make(chan int)})
	assert.Error(t, err)
}

func TestRun_ConcurrentUse(t *testing.T) {
	client := &mockCompleter{result: succeed(`{"summary":"s","whyItWorks":[],"patterns":[],"reuseStrategy":"r"}`)}
	e := New(prompts.Default(), client)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := e.Analyze(context.Background(), "c", nil)
			assert.True(t, out.OK())
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, client.calls)
}
