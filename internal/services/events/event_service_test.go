package events

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/interfaces"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	var count int64
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventCrawlProgress, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventCrawlProgress, handler))

	err := svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventCrawlProgress, Payload: "snapshot"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&count))
}

func TestPublishIsAsync(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	done := make(chan struct{})
	require.NoError(t, svc.Subscribe(interfaces.EventDocumentScraped, func(ctx context.Context, event interfaces.Event) error {
		close(done)
		return nil
	}))

	require.NoError(t, svc.Publish(ctx, interfaces.Event{Type: interfaces.EventDocumentScraped}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	assert.NoError(t, svc.Publish(ctx, interfaces.Event{Type: interfaces.EventJobFailed}))
	assert.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobFailed}))
}

func TestEventsRoutedByType(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	var progress, documents int64
	require.NoError(t, svc.Subscribe(interfaces.EventCrawlProgress, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&progress, 1)
		return nil
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventDocumentScraped, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&documents, 1)
		return nil
	}))

	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventCrawlProgress}))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventCrawlProgress}))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventDocumentScraped}))

	assert.Equal(t, int64(2), atomic.LoadInt64(&progress))
	assert.Equal(t, int64(1), atomic.LoadInt64(&documents))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	var count int64
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&count, 1)
		return nil
	}

	require.NoError(t, svc.Subscribe(interfaces.EventCrawlCompleted, handler))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventCrawlCompleted}))
	require.NoError(t, svc.Unsubscribe(interfaces.EventCrawlCompleted, handler))
	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventCrawlCompleted}))

	assert.Equal(t, int64(1), atomic.LoadInt64(&count))
}

func TestUnsubscribeUnknownHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())

	err := svc.Unsubscribe(interfaces.EventCrawlCompleted, func(ctx context.Context, event interfaces.Event) error {
		return nil
	})
	assert.Error(t, err)
}

func TestPublishSyncSurvivesPanickingHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	var delivered int64
	require.NoError(t, svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		panic("handler blew up")
	}))
	require.NoError(t, svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt64(&delivered, 1)
		return nil
	}))

	require.NoError(t, svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobFailed}))
	assert.Equal(t, int64(1), atomic.LoadInt64(&delivered))
}

func TestPublishSyncPropagatesHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	ctx := context.Background()

	require.NoError(t, svc.Subscribe(interfaces.EventJobFailed, func(ctx context.Context, event interfaces.Event) error {
		return assert.AnError
	}))

	err := svc.PublishSync(ctx, interfaces.Event{Type: interfaces.EventJobFailed})
	assert.Error(t, err)
}
