package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/fda483-pipeline/internal/inspection"
)

// fakeModel answers from a script of per-call behaviors.
type fakeModel struct {
	mu       sync.Mutex
	calls    []inspection.ModelRequest
	behavior []func(ctx context.Context) (string, error)
}

func (m *fakeModel) Generate(ctx context.Context, req inspection.ModelRequest) (string, error) {
	m.mu.Lock()
	n := len(m.calls)
	m.calls = append(m.calls, req)
	var fn func(ctx context.Context) (string, error)
	if n < len(m.behavior) {
		fn = m.behavior[n]
	}
	m.mu.Unlock()
	if fn == nil {
		return "[]", nil
	}
	return fn(ctx)
}

func (m *fakeModel) Calls() []inspection.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]inspection.ModelRequest(nil), m.calls...)
}

func reply(text string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return text, nil }
}

func hang() func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}
}

func fail(err error) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return "", err }
}

func shortTiers() []Tier {
	return []Tier{
		{Name: "fast", MaxBytes: 1 * mib, Timeout: 20 * time.Millisecond},
		{Name: "medium", MaxBytes: 3 * mib / 2, Timeout: 40 * time.Millisecond},
		{Name: "slow", MaxBytes: 3 * mib, Timeout: 60 * time.Millisecond},
	}
}

func TestSelectTier(t *testing.T) {
	tiers := DefaultTiers()
	cases := []struct {
		size int
		tier string
		ok   bool
	}{
		{size: 0, tier: "fast", ok: true},
		{size: mib / 2, tier: "fast", ok: true},
		{size: mib, tier: "fast", ok: true},
		{size: mib + 1, tier: "medium", ok: true},
		{size: 2 * mib, tier: "slow", ok: true},
		{size: 3 * mib, tier: "slow", ok: true},
		{size: 4 * mib, ok: false},
	}
	for _, tc := range cases {
		got, ok := SelectTier(tiers, tc.size)
		assert.Equal(t, tc.ok, ok, "size %d", tc.size)
		assert.Equal(t, tc.tier, got.Name, "size %d", tc.size)
	}

	slow, _ := SelectTier(tiers, 2*mib)
	assert.Equal(t, 30*time.Second, slow.Timeout)
	fast, _ := SelectTier(tiers, mib/2)
	assert.Equal(t, 8*time.Second, fast.Timeout)
}

func TestExtract_TooLargeNeverCallsModel(t *testing.T) {
	model := &fakeModel{}
	c := NewCaller(model, Config{}, nil)
	out := c.Extract(context.Background(), inspection.Document{Index: 0, Name: "big.pdf", Bytes: make([]byte, 4*mib)})

	assert.Equal(t, StatusTooLarge, out.Status)
	assert.Equal(t, "Document 1: big.pdf - File too large for processing", out.Reason)
	assert.ErrorIs(t, out.Err, inspection.ErrTooLarge)
	assert.Zero(t, out.Attempts)
	assert.Empty(t, model.Calls())
}

func TestExtract_SuccessUsesDeterministicConfig(t *testing.T) {
	model := &fakeModel{behavior: []func(context.Context) (string, error){reply(`[{"summary":"x"}]`)}}
	c := NewCaller(model, Config{Instruction: "extract", SchemaHint: "[]"}, nil)
	out := c.Extract(context.Background(), inspection.Document{Index: 2, Name: "a.pdf", Bytes: make([]byte, mib/2)})

	require.True(t, out.OK())
	assert.Equal(t, "fast", out.Tier)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, `[{"summary":"x"}]`, out.Text)

	calls := model.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, DefaultGenerationConfig(), calls[0].Config)
	assert.Equal(t, "application/pdf", calls[0].MIMEType)
	assert.Equal(t, "extract", calls[0].Instruction)
}

func TestExtract_TimeoutRetriesOnceDegraded(t *testing.T) {
	model := &fakeModel{behavior: []func(context.Context) (string, error){hang(), reply("[]")}}
	c := NewCaller(model, Config{Tiers: shortTiers()}, nil)
	out := c.Extract(context.Background(), inspection.Document{Name: "m.pdf", Bytes: make([]byte, mib+10)})

	require.True(t, out.OK())
	assert.Equal(t, "medium", out.Tier)
	assert.Equal(t, 2, out.Attempts)

	calls := model.Calls()
	require.Len(t, calls, 2)
	assert.EqualValues(t, 800, calls[0].Config.MaxOutputTokens)
	assert.EqualValues(t, 400, calls[1].Config.MaxOutputTokens)
}

func TestExtract_RetryTimeoutCapped(t *testing.T) {
	model := &fakeModel{behavior: []func(context.Context) (string, error){hang(), hang()}}
	cfg := Config{Tiers: []Tier{{Name: "slow", MaxBytes: mib, Timeout: 200 * time.Millisecond}}, RetryTimeoutCap: 20 * time.Millisecond}
	c := NewCaller(model, cfg, nil)

	start := time.Now()
	out := c.Extract(context.Background(), inspection.Document{Index: 4, Name: "s.pdf", Bytes: []byte("x")})
	elapsed := time.Since(start)

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "Document 5: s.pdf - Processing failed after retry", out.Reason)
	assert.ErrorIs(t, out.Err, inspection.ErrTimeout)
	assert.Less(t, elapsed, 400*time.Millisecond)
	assert.Len(t, model.Calls(), 2)
}

func TestExtract_ErrorDoesNotRetry(t *testing.T) {
	boom := errors.New("quota exceeded")
	model := &fakeModel{behavior: []func(context.Context) (string, error){fail(boom)}}
	c := NewCaller(model, Config{Tiers: shortTiers()}, nil)
	out := c.Extract(context.Background(), inspection.Document{Index: 1, Bytes: []byte("x")})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "Document 2: Unknown - Processing failed", out.Reason)
	assert.ErrorIs(t, out.Err, boom)
	assert.Len(t, model.Calls(), 1)
}

func TestExtract_ParentCancelIsNotRetried(t *testing.T) {
	model := &fakeModel{behavior: []func(context.Context) (string, error){hang(), hang()}}
	c := NewCaller(model, Config{Tiers: []Tier{{Name: "fast", MaxBytes: mib, Timeout: time.Second}}}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out := c.Extract(ctx, inspection.Document{Bytes: []byte("x")})

	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Len(t, model.Calls(), 1)
}
