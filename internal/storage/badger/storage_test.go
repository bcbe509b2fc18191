package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

func TestKVStorageRoundTrip(t *testing.T) {
	kv := NewKVStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, kv.Set(ctx, "Crawl.Default.Depth", "3"))

	// Keys are case-insensitive
	val, err := kv.Get(ctx, "crawl.default.depth")
	require.NoError(t, err)
	assert.Equal(t, "3", val)

	require.NoError(t, kv.Set(ctx, "crawl.default.depth", "5"))
	val, err = kv.Get(ctx, "crawl.default.depth")
	require.NoError(t, err)
	assert.Equal(t, "5", val)

	require.NoError(t, kv.Delete(ctx, "crawl.default.depth"))
	_, err = kv.Get(ctx, "crawl.default.depth")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	// Deleting an absent key is not an error
	require.NoError(t, kv.Delete(ctx, "crawl.default.depth"))
}

func TestKVStorageList(t *testing.T) {
	kv := NewKVStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "scraper.timeout", "30s"))
	require.NoError(t, kv.Set(ctx, "scraper.user_agent", "messor"))
	require.NoError(t, kv.Set(ctx, "crawler.depth", "3"))

	pairs, err := kv.List(ctx, "scraper.")
	require.NoError(t, err)
	require.Len(t, pairs, 2)
	assert.Equal(t, "scraper.timeout", pairs[0].Key)
	assert.Equal(t, "scraper.user_agent", pairs[1].Key)

	all, err := kv.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestCacheStorageRoundTrip(t *testing.T) {
	cache := NewCacheStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := cache.Get(ctx, "deadbeef")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	require.NoError(t, cache.Put(ctx, "deadbeef", []byte("converted markdown")))

	entry, err := cache.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", entry.Key)
	assert.Equal(t, []byte("converted markdown"), entry.Payload)
	assert.False(t, entry.CreatedAt.IsZero())

	// Same key overwrites in place
	require.NoError(t, cache.Put(ctx, "deadbeef", []byte("newer payload")))
	entry, err = cache.Get(ctx, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, []byte("newer payload"), entry.Payload)

	count, err := cache.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCrawlStatePersistence(t *testing.T) {
	store := NewCrawlStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	_, err := store.GetCrawl(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)

	state := &models.CrawlState{
		CrawlID:   "crawl-1",
		OriginURL: "https://example.com",
		Status:    models.JobStatusRunning,
		Options:   models.CrawlOptions{MaxDepth: 2, Limit: 50},
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.SaveCrawl(ctx, state))

	loaded, err := store.GetCrawl(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", loaded.OriginURL)
	assert.Equal(t, models.JobStatusRunning, loaded.Status)
	assert.Equal(t, 2, loaded.Options.MaxDepth)

	// Update in place
	loaded.Status = models.JobStatusCompleted
	loaded.Enqueued = 10
	loaded.Completed = 10
	require.NoError(t, store.SaveCrawl(ctx, loaded))

	again, err := store.GetCrawl(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, again.Status)
	assert.Equal(t, 10, again.Completed)
}

func TestListCrawlsByStatus(t *testing.T) {
	store := NewCrawlStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, status := range []models.JobStatus{
		models.JobStatusRunning,
		models.JobStatusCompleted,
		models.JobStatusRunning,
	} {
		require.NoError(t, store.SaveCrawl(ctx, &models.CrawlState{
			CrawlID:   []string{"c-1", "c-2", "c-3"}[i],
			OriginURL: "https://example.com",
			Status:    status,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	running, err := store.ListCrawls(ctx, models.JobStatusRunning, 0)
	require.NoError(t, err)
	require.Len(t, running, 2)
	// Newest first
	assert.Equal(t, "c-3", running[0].CrawlID)
	assert.Equal(t, "c-1", running[1].CrawlID)

	all, err := store.ListCrawls(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	limited, err := store.ListCrawls(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestJobResultsPerCrawl(t *testing.T) {
	store := NewCrawlStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, url := range []string{"https://a.com/1", "https://a.com/2"} {
		require.NoError(t, store.SaveResult(ctx, &models.JobResult{
			JobID:     []string{"j-1", "j-2"}[i],
			CrawlID:   "crawl-1",
			URL:       url,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, store.SaveResult(ctx, &models.JobResult{
		JobID:     "j-other",
		CrawlID:   "crawl-2",
		URL:       "https://b.com/",
		CreatedAt: base,
	}))

	results, err := store.ListResults(ctx, "crawl-1", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://a.com/1", results[0].URL)
	assert.Equal(t, "https://a.com/2", results[1].URL)

	count, err := store.CountResults(ctx, "crawl-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountResults(ctx, "crawl-2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestResearchStatePersistence(t *testing.T) {
	store := NewResearchStorage(newTestBadgerDB(t), arbor.NewLogger())
	ctx := context.Background()

	state := &models.ResearchState{
		ID:        "research-1",
		Query:     "solid state battery production",
		Status:    models.JobStatusRunning,
		MaxDepth:  5,
		SeenURLs:  map[string]bool{"https://example.com/": true},
		StartTime: time.Now(),
	}
	require.NoError(t, store.SaveResearch(ctx, state))

	loaded, err := store.GetResearch(ctx, "research-1")
	require.NoError(t, err)
	assert.Equal(t, "solid state battery production", loaded.Query)
	assert.True(t, loaded.SeenURLs["https://example.com/"])

	loaded.Status = models.JobStatusCompleted
	loaded.FinalAnalysis = "summary"
	require.NoError(t, store.SaveResearch(ctx, loaded))

	again, err := store.GetResearch(ctx, "research-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, again.Status)
	assert.Equal(t, "summary", again.FinalAnalysis)

	_, err = store.GetResearch(ctx, "missing")
	assert.ErrorIs(t, err, interfaces.ErrKeyNotFound)
}
