package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	badgerstore "github.com/ternarybob/messor/internal/storage/badger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	db := badgerstore.NewBadgerDBFromStore(store, arbor.NewLogger())
	return NewService(badgerstore.NewCacheStorage(db, arbor.NewLogger()), arbor.NewLogger())
}

func TestKeyIsContentDerived(t *testing.T) {
	svc := newTestService(t)

	a := svc.Key([]byte("<html><body>hello</body></html>"))
	b := svc.Key([]byte("<html><body>hello</body></html>"))
	c := svc.Key([]byte("<html><body>other</body></html>"))

	assert.Equal(t, a, b, "identical bytes must share one key")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "hex sha256 digest")
}

func TestLookupAfterStore(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	raw := []byte("<html>raw page</html>")
	payload := []byte("# Raw Page")

	_, hit := svc.Lookup(ctx, raw, false)
	assert.False(t, hit, "cold cache should miss")

	require.NoError(t, svc.Store(ctx, raw, payload))

	got, hit := svc.Lookup(ctx, raw, false)
	require.True(t, hit)
	assert.Equal(t, payload, got)
}

func TestBypassAlwaysMisses(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	raw := []byte("cached already")
	require.NoError(t, svc.Store(ctx, raw, []byte("converted")))

	_, hit := svc.Lookup(ctx, raw, true)
	assert.False(t, hit, "bypass must force recomputation")

	got, hit := svc.Lookup(ctx, raw, false)
	require.True(t, hit, "bypass must not delete the prior entry")
	assert.Equal(t, []byte("converted"), got)
}

func TestBypassedScrapeStillWrites(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	raw := []byte("same content twice")
	require.NoError(t, svc.Store(ctx, raw, []byte("first pass")))
	require.NoError(t, svc.Store(ctx, raw, []byte("second pass")))

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one key, last write wins")

	got, hit := svc.Lookup(ctx, raw, false)
	require.True(t, hit)
	assert.Equal(t, []byte("second pass"), got)
}

func TestDistinctURLsSameContentShareEntry(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// The key never sees the URL, only the bytes.
	body := []byte("<html>mirrored page</html>")
	require.NoError(t, svc.Store(ctx, body, []byte("# Mirrored")))

	got, hit := svc.Lookup(ctx, body, false)
	require.True(t, hit)
	assert.Equal(t, []byte("# Mirrored"), got)

	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
