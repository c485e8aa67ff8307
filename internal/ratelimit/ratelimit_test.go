package ratelimit_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novastream/internal/ratelimit"
	"novastream/internal/store"
)

func newTestLimiter(t *testing.T, cfg ratelimit.Config) *ratelimit.Limiter {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return ratelimit.New(st, cfg)
}

func TestCheck_GlobalMasksProvider(t *testing.T) {
	l := newTestLimiter(t, ratelimit.Config{
		GlobalLimit:    1,
		GlobalPeriod:   time.Minute,
		ProviderQuotas: map[string]ratelimit.ProviderQuota{"bilibili": {Limit: 100, Period: time.Minute}},
	})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "bilibili"))

	err := l.Check(ctx, "bilibili")
	require.Error(t, err)
	var lim *ratelimit.LimitExceeded
	require.ErrorAs(t, err, &lim)
	require.Equal(t, "global", lim.Bucket)
}

func TestCheck_ProviderQuotaIndependentOfOtherProviders(t *testing.T) {
	l := newTestLimiter(t, ratelimit.Config{
		GlobalLimit:  100,
		GlobalPeriod: time.Minute,
		ProviderQuotas: map[string]ratelimit.ProviderQuota{
			"bilibili": {Limit: 1, Period: time.Minute},
			"gamer":    {Limit: 1, Period: time.Minute},
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Check(ctx, "bilibili"))
	require.Error(t, l.Check(ctx, "bilibili"))
	require.NoError(t, l.Check(ctx, "gamer"))
}

func TestCheckFallback_SeparateMatchAndSearchCounters(t *testing.T) {
	l := newTestLimiter(t, ratelimit.Config{
		GlobalLimit:    100,
		GlobalPeriod:   time.Minute,
		FallbackLimit:  1,
		FallbackPeriod: time.Minute,
	})
	ctx := context.Background()

	require.NoError(t, l.CheckFallback(ctx, ratelimit.FallbackMatch, "bilibili"))
	require.Error(t, l.CheckFallback(ctx, ratelimit.FallbackMatch, "bilibili"))
	require.NoError(t, l.CheckFallback(ctx, ratelimit.FallbackSearch, "bilibili"))
}

func TestVerificationFailedRejectsEverything(t *testing.T) {
	l := newTestLimiter(t, ratelimit.Config{GlobalLimit: 100, GlobalPeriod: time.Minute})
	l.SetVerificationFailed(true)
	require.Error(t, l.Check(context.Background(), "bilibili"))
}

func TestStatus_ReportsCountersEvenWhenVerificationFailed(t *testing.T) {
	l := newTestLimiter(t, ratelimit.Config{GlobalLimit: 100, GlobalPeriod: time.Minute})
	_ = l.Check(context.Background(), "bilibili")
	l.SetVerificationFailed(true)
	require.NotEmpty(t, l.Status())
}
