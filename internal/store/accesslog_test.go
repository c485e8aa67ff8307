package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"novastream/internal/store"
)

func TestRecordAccessLog_RecentReturnsNewestFirst(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, st.RecordAccessLog(ctx, store.AccessLogEntry{
		Token: "tok", ClientIP: "1.2.3.4", Path: "/tok/search/anime", Status: "allowed", CreatedAt: base,
	}))
	require.NoError(t, st.RecordAccessLog(ctx, store.AccessLogEntry{
		Token: "tok", ClientIP: "1.2.3.4", Path: "/tok/match", Status: "denied_expired", CreatedAt: base.Add(time.Minute),
	}))
	require.NoError(t, st.RecordAccessLog(ctx, store.AccessLogEntry{
		Token: "other", ClientIP: "5.6.7.8", Path: "/other/match", Status: "allowed", CreatedAt: base,
	}))

	entries, err := st.RecentAccessLog(ctx, "tok", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "/tok/match", entries[0].Path)
	require.Equal(t, "denied_expired", entries[0].Status)
	require.Equal(t, "/tok/search/anime", entries[1].Path)
}

func TestRecentAccessLog_RespectsLimit(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, st.RecordAccessLog(ctx, store.AccessLogEntry{
			Token: "tok", ClientIP: "1.2.3.4", Path: "/tok/match", Status: "allowed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := st.RecentAccessLog(ctx, "tok", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
}
