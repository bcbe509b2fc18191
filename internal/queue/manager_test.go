package queue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/models"
)

func newTestDB(t *testing.T) *badger.DB {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestManager(t *testing.T, opts ManagerOptions) *BadgerManager {
	t.Helper()
	if opts.QueueName == "" {
		opts.QueueName = "test"
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = 10 * time.Millisecond
	}
	if opts.BackoffMax == 0 {
		opts.BackoffMax = 80 * time.Millisecond
	}
	return NewBadgerManager(newTestDB(t), opts, arbor.NewLogger())
}

func testMessage(id, jobType string, priority int) *JobMessage {
	return &JobMessage{
		ID:       id,
		Type:     jobType,
		Priority: priority,
		Payload:  json.RawMessage(`{"url":"https://example.com"}`),
	}
}

func TestEnqueueReceiveAck(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	msg := testMessage("msg-1", JobTypeCrawlPage, PriorityPage)
	require.NoError(t, mgr.Enqueue(ctx, msg))

	size, err := mgr.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "msg-1", claimed.ID)
	assert.Equal(t, JobTypeCrawlPage, claimed.Type)
	assert.Equal(t, 1, claimed.ReceiveCount)
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(claimed.Payload))

	// Claimed message is invisible until the window expires
	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.NoError(t, mgr.Ack(ctx, claimed))

	size, err = mgr.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestReceiveEmptyQueue(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})

	_, err := mgr.Receive(context.Background())
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestEnqueueAssignsID(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	msg := testMessage("", JobTypeCrawlPage, PriorityPage)
	require.NoError(t, mgr.Enqueue(ctx, msg))
	assert.NotEmpty(t, msg.ID)
}

func TestPriorityOrdering(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("page-1", JobTypeCrawlPage, PriorityPage)))
	require.NoError(t, mgr.Enqueue(ctx, testMessage("page-2", JobTypeCrawlPage, PriorityPage)))
	require.NoError(t, mgr.Enqueue(ctx, testMessage("kickoff-1", JobTypeCrawlKickoff, PriorityKickoff)))

	// Lower priority number wins even though it was enqueued last
	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kickoff-1", claimed.ID)

	claimed, err = mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "page-1", claimed.ID)

	claimed, err = mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "page-2", claimed.ID)
}

func TestEnqueueWithDelay(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	msg := testMessage("delayed-1", JobTypeCrawlPage, PriorityPage)
	require.NoError(t, mgr.EnqueueWithDelay(ctx, msg, 40*time.Millisecond))

	_, err := mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	require.Eventually(t, func() bool {
		claimed, err := mgr.Receive(ctx)
		return err == nil && claimed.ID == "delayed-1"
	}, time.Second, 10*time.Millisecond)
}

func TestVisibilityTimeoutRedelivers(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{VisibilityTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("msg-1", JobTypeCrawlPage, PriorityPage)))

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.ReceiveCount)

	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// Never acked, so it reappears once the claim window lapses
	require.Eventually(t, func() bool {
		redelivered, err := mgr.Receive(ctx)
		if err != nil {
			return false
		}
		assert.Equal(t, "msg-1", redelivered.ID)
		assert.Equal(t, 2, redelivered.ReceiveCount)
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestFailTransientReschedules(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("msg-1", JobTypeCrawlPage, PriorityPage)))

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)

	rec := &models.ErrorRecord{Code: models.ErrCodeTimeout, Message: "request timed out"}
	outcome, err := mgr.Fail(ctx, claimed, rec)
	require.NoError(t, err)
	assert.Equal(t, FailOutcomeRetry, outcome)

	// Still stored, just not visible until the backoff elapses
	size, err := mgr.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	require.Eventually(t, func() bool {
		redelivered, err := mgr.Receive(ctx)
		if err != nil {
			return false
		}
		assert.Equal(t, "msg-1", redelivered.ID)
		assert.Equal(t, 2, redelivered.ReceiveCount)
		require.NotNil(t, redelivered.LastError)
		assert.Equal(t, models.ErrCodeTimeout, redelivered.LastError.Code)
		return true
	}, time.Second, 10*time.Millisecond)
}

func TestFailNonTransientDeadLetters(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("msg-1", JobTypeCrawlPage, PriorityPage)))

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)

	rec := &models.ErrorRecord{Code: models.ErrCodeValidation, Message: "malformed payload"}
	outcome, err := mgr.Fail(ctx, claimed, rec)
	require.NoError(t, err)
	assert.Equal(t, FailOutcomeDeadLetter, outcome)

	size, err := mgr.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)

	letters, err := mgr.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "msg-1", letters[0].Message.ID)
	require.NotNil(t, letters[0].Error)
	assert.Equal(t, models.ErrCodeValidation, letters[0].Error.Code)
}

func TestFailExhaustedBudgetDeadLetters(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{MaxReceive: 2})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("msg-1", JobTypeCrawlPage, PriorityPage)))

	rec := &models.ErrorRecord{Code: models.ErrCodeNetwork, Message: "connection reset"}

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)
	outcome, err := mgr.Fail(ctx, claimed, rec)
	require.NoError(t, err)
	assert.Equal(t, FailOutcomeRetry, outcome)

	var second *JobMessage
	require.Eventually(t, func() bool {
		msg, err := mgr.Receive(ctx)
		if err != nil {
			return false
		}
		second = msg
		return true
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, second.ReceiveCount)

	// Transient error, but the receive budget is spent
	outcome, err = mgr.Fail(ctx, second, rec)
	require.NoError(t, err)
	assert.Equal(t, FailOutcomeDeadLetter, outcome)

	letters, err := mgr.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, models.ErrCodeNetwork, letters[0].Error.Code)
}

func TestPoisonPillDeadLettersOnReceive(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{
		VisibilityTimeout: 20 * time.Millisecond,
		MaxReceive:        2,
	})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("crasher", JobTypeCrawlPage, PriorityPage)))

	// Claim twice without ever acking or failing, as a crashing worker would
	for i := 0; i < 2; i++ {
		require.Eventually(t, func() bool {
			_, err := mgr.Receive(ctx)
			return err == nil
		}, time.Second, 5*time.Millisecond)
	}

	// Third pass finds the budget spent and dead-letters instead of claiming
	require.Eventually(t, func() bool {
		_, err := mgr.Receive(ctx)
		if err != ErrNoMessage {
			return false
		}
		letters, lerr := mgr.DeadLetters(ctx, 10)
		require.NoError(t, lerr)
		return len(letters) == 1
	}, time.Second, 10*time.Millisecond)

	letters, err := mgr.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "crasher", letters[0].Message.ID)
	assert.Equal(t, models.ErrCodeUnknown, letters[0].Error.Code)

	size, err := mgr.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestTeamLanes(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{DefaultTeamConcurrency: 1})
	ctx := context.Background()

	teamA1 := testMessage("a-1", JobTypeCrawlPage, PriorityPage)
	teamA1.TeamID = "team-a"
	teamA2 := testMessage("a-2", JobTypeCrawlPage, PriorityPage)
	teamA2.TeamID = "team-a"
	teamB1 := testMessage("b-1", JobTypeCrawlPage, PriorityPage)
	teamB1.TeamID = "team-b"

	require.NoError(t, mgr.Enqueue(ctx, teamA1))
	require.NoError(t, mgr.Enqueue(ctx, teamA2))
	require.NoError(t, mgr.Enqueue(ctx, teamB1))

	first, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a-1", first.ID)

	// team-a lane is full, so the next claim skips to team-b
	second, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b-1", second.ID)

	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	// Acking a-1 frees the lane for a-2
	require.NoError(t, mgr.Ack(ctx, first))

	third, err := mgr.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a-2", third.ID)
}

func TestTeamLanePerMessageOverride(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{DefaultTeamConcurrency: 1})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		msg := testMessage("", JobTypeCrawlPage, PriorityPage)
		msg.TeamID = "team-a"
		msg.TeamConcurrency = 2
		require.NoError(t, mgr.Enqueue(ctx, msg))
	}

	_, err := mgr.Receive(ctx)
	require.NoError(t, err)
	_, err = mgr.Receive(ctx)
	require.NoError(t, err)

	_, err = mgr.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestConcurrentReceiveClaimsOnce(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("only", JobTypeCrawlPage, PriorityPage)))

	var mu sync.Mutex
	var claims []string
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := mgr.Receive(ctx)
			if err == nil {
				mu.Lock()
				claims = append(claims, msg.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// Transaction conflict resolution guarantees a single winner
	assert.Len(t, claims, 1)
}

func TestDeadLettersNewestFirst(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	rec := &models.ErrorRecord{Code: models.ErrCodeSite, Message: "gone"}

	for _, id := range []string{"old", "new"} {
		require.NoError(t, mgr.Enqueue(ctx, testMessage(id, JobTypeCrawlPage, PriorityPage)))
		claimed, err := mgr.Receive(ctx)
		require.NoError(t, err)
		_, err = mgr.Fail(ctx, claimed, rec)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	letters, err := mgr.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 2)
	assert.Equal(t, "new", letters[0].Message.ID)
	assert.Equal(t, "old", letters[1].Message.ID)

	limited, err := mgr.DeadLetters(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "new", limited[0].Message.ID)
}

func TestStats(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, testMessage("p-1", JobTypeCrawlPage, PriorityPage)))
	require.NoError(t, mgr.Enqueue(ctx, testMessage("p-2", JobTypeCrawlPage, PriorityPage)))

	msg := testMessage("p-3", JobTypeCrawlPage, PriorityPage)
	msg.TeamID = "team-a"
	msg.TeamConcurrency = 4
	require.NoError(t, mgr.Enqueue(ctx, msg))

	claimed, err := mgr.Receive(ctx)
	require.NoError(t, err)
	require.Equal(t, "p-1", claimed.ID)

	stats, err := mgr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats["pending"])
	assert.Equal(t, 0, stats["dead"])
}

func TestBackoffDoubling(t *testing.T) {
	mgr := newTestManager(t, ManagerOptions{
		BackoffBase: 100 * time.Millisecond,
		BackoffMax:  1 * time.Second,
	})

	assert.Equal(t, 100*time.Millisecond, mgr.backoffFor(1))
	assert.Equal(t, 200*time.Millisecond, mgr.backoffFor(2))
	assert.Equal(t, 400*time.Millisecond, mgr.backoffFor(3))
	assert.Equal(t, 800*time.Millisecond, mgr.backoffFor(4))
	assert.Equal(t, 1*time.Second, mgr.backoffFor(5))
	assert.Equal(t, 1*time.Second, mgr.backoffFor(20))
}
