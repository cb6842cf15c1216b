package api

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

func TestRunStore_Lifecycle(t *testing.T) {
	t.Parallel()

	store := NewRunStore(0)
	now := time.Unix(100, 0).UTC()

	created := store.Create("r1", RunRequest{Sites: []string{"a"}}, now)
	require.Equal(t, RunQueued, created.Status)

	store.Start("r1", now.Add(time.Second))
	run, ok := store.Get("r1")
	require.True(t, ok)
	require.Equal(t, RunRunning, run.Status)
	require.NotNil(t, run.StartedAt)

	results := map[string]crawler.CrawlResult{"a": crawler.NewCrawlResult("a", now)}
	store.Complete("r1", results, now.Add(time.Minute))
	run, _ = store.Get("r1")
	require.Equal(t, RunDone, run.Status)
	require.Len(t, run.Results, 1)

	run.Results["b"] = crawler.CrawlResult{}
	run.Request.Sites[0] = "changed"
	again, _ := store.Get("r1")
	require.Len(t, again.Results, 1)
	require.Equal(t, "a", again.Request.Sites[0])

	_, ok = store.Get("missing")
	require.False(t, ok)
	store.Start("missing", now)
}

func TestRunStore_ListNewestFirstWithoutResults(t *testing.T) {
	t.Parallel()

	store := NewRunStore(0)
	base := time.Unix(100, 0).UTC()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("r%d", i)
		store.Create(id, RunRequest{}, base.Add(time.Duration(i)*time.Second))
		store.Complete(id, map[string]crawler.CrawlResult{"a": {}}, base)
	}

	runs := store.List()
	require.Len(t, runs, 3)
	require.Equal(t, "r2", runs[0].ID)
	require.Equal(t, "r0", runs[2].ID)
	require.Nil(t, runs[0].Results)
}

func TestRunStore_EvictsOldestFinished(t *testing.T) {
	t.Parallel()

	store := NewRunStore(2)
	now := time.Unix(100, 0).UTC()

	store.Create("running", RunRequest{}, now)
	store.Create("done-1", RunRequest{}, now)
	store.Complete("done-1", nil, now)
	store.Create("done-2", RunRequest{}, now)

	_, ok := store.Get("running")
	require.True(t, ok, "unfinished runs are never evicted")
	_, ok = store.Get("done-1")
	require.False(t, ok)
	_, ok = store.Get("done-2")
	require.True(t, ok)
}
