package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/models"
)

// BadgerManager is a durable priority queue on Badger. Two key families hold
// the data:
//
//	queue:{name}:msg:{id}                          -> JobMessage JSON
//	queue:{name}:index:{pri}:{visibleAtNanos}:{id} -> empty
//
// The index key embeds a zero-padded priority band and timestamp so that a
// plain iteration visits messages in (priority, visibleAt) order. Claiming a
// message bumps ReceiveCount and pushes VisibleAt forward, which moves its
// index key into the future; a worker that dies mid-job simply lets the
// message reappear when the visibility window expires.
//
// Dead letters live under queue:{name}:dead:{deadAtNanos}:{id} and are kept
// for inspection rather than deleted.
type BadgerManager struct {
	db        *badger.DB
	queueName string
	logger    arbor.ILogger

	visibilityTimeout time.Duration
	maxReceive        int
	backoffBase       time.Duration
	backoffMax        time.Duration

	// In-flight counters per team. Receive skips messages whose team lane is
	// full; Ack and Fail release the slot.
	laneMu      sync.Mutex
	lanes       map[string]int
	defaultLane int
}

// ManagerOptions configures a BadgerManager.
type ManagerOptions struct {
	QueueName         string
	VisibilityTimeout time.Duration
	MaxReceive        int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	// DefaultTeamConcurrency bounds in-flight messages per team when the
	// message itself carries no limit. Zero disables lane enforcement.
	DefaultTeamConcurrency int
}

// NewBadgerManager creates a queue manager on an existing Badger DB. The DB
// lifecycle belongs to the storage layer, not the queue.
func NewBadgerManager(db *badger.DB, opts ManagerOptions, logger arbor.ILogger) *BadgerManager {
	if opts.QueueName == "" {
		opts.QueueName = "jobs"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 5 * time.Minute
	}
	if opts.MaxReceive <= 0 {
		opts.MaxReceive = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 1 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}

	return &BadgerManager{
		db:                db,
		queueName:         opts.QueueName,
		logger:            logger,
		visibilityTimeout: opts.VisibilityTimeout,
		maxReceive:        opts.MaxReceive,
		backoffBase:       opts.BackoffBase,
		backoffMax:        opts.BackoffMax,
		lanes:             make(map[string]int),
		defaultLane:       opts.DefaultTeamConcurrency,
	}
}

// Start logs queue readiness. The DB is opened by the storage layer.
func (m *BadgerManager) Start() error {
	size, err := m.Size(context.Background())
	if err != nil {
		return fmt.Errorf("failed to inspect queue on start: %w", err)
	}
	m.logger.Info().
		Str("queue", m.queueName).
		Int("pending", size).
		Msg("Queue manager started")
	return nil
}

// Stop releases nothing; the DB is closed by the storage layer.
func (m *BadgerManager) Stop() error {
	m.logger.Info().Str("queue", m.queueName).Msg("Queue manager stopped")
	return nil
}

// Enqueue adds a message, immediately visible
func (m *BadgerManager) Enqueue(ctx context.Context, msg *JobMessage) error {
	return m.EnqueueWithDelay(ctx, msg, 0)
}

// EnqueueWithDelay adds a message that becomes visible after delay
func (m *BadgerManager) EnqueueWithDelay(ctx context.Context, msg *JobMessage, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	now := time.Now()
	msg.EnqueuedAt = now
	msg.VisibleAt = now.Add(delay)

	data, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(msg.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(msg.Priority, msg.VisibleAt, msg.ID), nil)
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	m.logger.Debug().
		Str("message_id", msg.ID).
		Str("type", msg.Type).
		Int("priority", msg.Priority).
		Dur("delay", delay).
		Msg("Message enqueued")
	return nil
}

// Receive claims the next visible message in (priority, visibleAt) order,
// honoring team lanes. Returns ErrNoMessage when nothing is claimable.
func (m *BadgerManager) Receive(ctx context.Context) (*JobMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var claimed *JobMessage
	acquiredTeam := ""
	laneHeld := false

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(m.indexPrefix())
		now := time.Now()

		// Cleanup writes (orphan removal, poison dead-letters) must commit
		// even when nothing gets claimed, so the loop never returns an error
		// for the empty case; the caller checks claimed instead.
		for it.Seek(prefix); it.ValidForPrefix(prefix); {
			key := it.Item().KeyCopy(nil)
			pri, visibleAt, id, err := m.parseIndexKey(key)
			if err != nil {
				it.Next()
				continue
			}

			if visibleAt.After(now) {
				// Within a priority band keys are sorted by timestamp, so the
				// rest of this band is future-dated. Jump to the next band.
				it.Seek(m.bandEnd(pri))
				continue
			}

			item, err := txn.Get(m.msgKey(id))
			if err != nil {
				if err == badger.ErrKeyNotFound {
					// Orphaned index entry, clean it up and move on
					if derr := txn.Delete(key); derr != nil {
						return derr
					}
					it.Next()
					continue
				}
				return err
			}

			var msg JobMessage
			if err := item.Value(func(val []byte) error {
				decoded, derr := FromJSON(val)
				if derr != nil {
					return derr
				}
				msg = *decoded
				return nil
			}); err != nil {
				return err
			}

			if msg.ReceiveCount >= m.maxReceive {
				// Redelivered past its budget without an explicit Fail, which
				// means a worker kept dying on it. Dead-letter instead of
				// looping forever.
				if err := m.deadLetterTxn(txn, &msg, key, &models.ErrorRecord{
					Code:    models.ErrCodeUnknown,
					Message: "receive budget exhausted",
				}); err != nil {
					return err
				}
				it.Next()
				continue
			}

			if !m.tryAcquireLane(msg.TeamID, msg.TeamConcurrency) {
				it.Next()
				continue
			}
			acquiredTeam = msg.TeamID
			laneHeld = true

			msg.ReceiveCount++
			msg.VisibleAt = time.Now().Add(m.visibilityTimeout)

			data, err := msg.ToJSON()
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(msg.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := txn.Set(m.indexKey(msg.Priority, msg.VisibleAt, msg.ID), nil); err != nil {
				return err
			}

			claimed = &msg
			return nil
		}

		return nil
	})

	if err != nil {
		if laneHeld {
			m.releaseLane(acquiredTeam)
		}
		return nil, fmt.Errorf("failed to receive message: %w", err)
	}
	if claimed == nil {
		return nil, ErrNoMessage
	}

	m.logger.Debug().
		Str("message_id", claimed.ID).
		Str("type", claimed.Type).
		Int("receive_count", claimed.ReceiveCount).
		Msg("Message claimed")
	return claimed, nil
}

// Ack removes a successfully processed message and releases its team lane
func (m *BadgerManager) Ack(ctx context.Context, msg *JobMessage) error {
	defer m.releaseLane(msg.TeamID)

	err := m.db.Update(func(txn *badger.Txn) error {
		return m.removeTxn(txn, msg.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.ID, err)
	}

	m.logger.Debug().Str("message_id", msg.ID).Msg("Message acked")
	return nil
}

// Fail routes a failed message. Transient errors reschedule with exponential
// backoff while the receive budget lasts; everything else dead-letters.
func (m *BadgerManager) Fail(ctx context.Context, msg *JobMessage, rec *models.ErrorRecord) (FailOutcome, error) {
	defer m.releaseLane(msg.TeamID)

	if rec == nil {
		rec = &models.ErrorRecord{Code: models.ErrCodeUnknown, Message: "unspecified failure"}
	}

	retryable := rec.Code.IsTransient() && msg.ReceiveCount < m.maxReceive

	if retryable {
		backoff := m.backoffFor(msg.ReceiveCount)
		err := m.db.Update(func(txn *badger.Txn) error {
			current, oldIndex, err := m.loadTxn(txn, msg.ID)
			if err != nil {
				return err
			}
			current.LastError = rec
			current.VisibleAt = time.Now().Add(backoff)

			data, err := current.ToJSON()
			if err != nil {
				return err
			}
			if err := txn.Set(m.msgKey(current.ID), data); err != nil {
				return err
			}
			if err := txn.Delete(oldIndex); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
			return txn.Set(m.indexKey(current.Priority, current.VisibleAt, current.ID), nil)
		})
		if err != nil {
			return "", fmt.Errorf("failed to reschedule message %s: %w", msg.ID, err)
		}

		m.logger.Warn().
			Str("message_id", msg.ID).
			Str("error_code", string(rec.Code)).
			Int("receive_count", msg.ReceiveCount).
			Dur("backoff", backoff).
			Msg("Message rescheduled after transient failure")
		return FailOutcomeRetry, nil
	}

	err := m.db.Update(func(txn *badger.Txn) error {
		current, oldIndex, err := m.loadTxn(txn, msg.ID)
		if err != nil {
			return err
		}
		return m.deadLetterTxn(txn, current, oldIndex, rec)
	})
	if err != nil {
		return "", fmt.Errorf("failed to dead-letter message %s: %w", msg.ID, err)
	}

	m.logger.Warn().
		Str("message_id", msg.ID).
		Str("error_code", string(rec.Code)).
		Int("receive_count", msg.ReceiveCount).
		Msg("Message dead-lettered")
	return FailOutcomeDeadLetter, nil
}

// Size returns the number of stored messages, claimed ones included
func (m *BadgerManager) Size(ctx context.Context) (int, error) {
	return m.countPrefix(fmt.Sprintf("queue:%s:msg:", m.queueName))
}

// DeadLetters lists dead-lettered messages, newest first
func (m *BadgerManager) DeadLetters(ctx context.Context, limit int) ([]*DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}

	var letters []*DeadLetter
	prefix := []byte(fmt.Sprintf("queue:%s:dead:", m.queueName))

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts just past the prefix. 0xFF caps the seek
		// key above every timestamp suffix.
		seek := append(append([]byte{}, prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(letters) < limit; it.Next() {
			var letter DeadLetter
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &letter)
			}); err != nil {
				return err
			}
			letters = append(letters, &letter)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return letters, nil
}

// Stats returns queue counters for diagnostics
func (m *BadgerManager) Stats(ctx context.Context) (map[string]interface{}, error) {
	pending, err := m.Size(ctx)
	if err != nil {
		return nil, err
	}
	dead, err := m.countPrefix(fmt.Sprintf("queue:%s:dead:", m.queueName))
	if err != nil {
		return nil, err
	}

	m.laneMu.Lock()
	inFlight := 0
	lanes := make(map[string]int, len(m.lanes))
	for team, n := range m.lanes {
		inFlight += n
		lanes[team] = n
	}
	m.laneMu.Unlock()

	return map[string]interface{}{
		"queue":     m.queueName,
		"pending":   pending,
		"in_flight": inFlight,
		"dead":      dead,
		"lanes":     lanes,
	}, nil
}

// loadTxn reads a message and computes its current index key
func (m *BadgerManager) loadTxn(txn *badger.Txn, id string) (*JobMessage, []byte, error) {
	item, err := txn.Get(m.msgKey(id))
	if err != nil {
		return nil, nil, err
	}
	var msg *JobMessage
	if err := item.Value(func(val []byte) error {
		decoded, derr := FromJSON(val)
		if derr != nil {
			return derr
		}
		msg = decoded
		return nil
	}); err != nil {
		return nil, nil, err
	}
	return msg, m.indexKey(msg.Priority, msg.VisibleAt, msg.ID), nil
}

// removeTxn deletes a message and its index entry
func (m *BadgerManager) removeTxn(txn *badger.Txn, id string) error {
	msg, indexKey, err := m.loadTxn(txn, id)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	}
	if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
		return err
	}
	return txn.Delete(m.msgKey(msg.ID))
}

// deadLetterTxn moves a message into the dead-letter bucket
func (m *BadgerManager) deadLetterTxn(txn *badger.Txn, msg *JobMessage, indexKey []byte, rec *models.ErrorRecord) error {
	msg.LastError = rec
	letter := DeadLetter{
		Message: *msg,
		Error:   rec,
		DeadAt:  time.Now(),
	}
	data, err := json.Marshal(letter)
	if err != nil {
		return err
	}

	deadKey := []byte(fmt.Sprintf("queue:%s:dead:%020d:%s", m.queueName, letter.DeadAt.UnixNano(), msg.ID))
	if err := txn.Set(deadKey, data); err != nil {
		return err
	}
	if indexKey != nil {
		if err := txn.Delete(indexKey); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return txn.Delete(m.msgKey(msg.ID))
}

func (m *BadgerManager) countPrefix(prefix string) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// backoffFor doubles the base delay per completed attempt, capped
func (m *BadgerManager) backoffFor(receiveCount int) time.Duration {
	backoff := m.backoffBase
	for i := 1; i < receiveCount; i++ {
		backoff *= 2
		if backoff >= m.backoffMax {
			return m.backoffMax
		}
	}
	if backoff > m.backoffMax {
		return m.backoffMax
	}
	return backoff
}

// tryAcquireLane reserves an in-flight slot for a team. msgLimit overrides
// the default when set; zero limits on both sides disable enforcement.
func (m *BadgerManager) tryAcquireLane(teamID string, msgLimit int) bool {
	limit := msgLimit
	if limit <= 0 {
		limit = m.defaultLane
	}
	if teamID == "" || limit <= 0 {
		return true
	}

	m.laneMu.Lock()
	defer m.laneMu.Unlock()
	if m.lanes[teamID] >= limit {
		return false
	}
	m.lanes[teamID]++
	return true
}

func (m *BadgerManager) releaseLane(teamID string) {
	if teamID == "" {
		return
	}
	m.laneMu.Lock()
	defer m.laneMu.Unlock()
	if m.lanes[teamID] > 0 {
		m.lanes[teamID]--
	}
	if m.lanes[teamID] == 0 {
		delete(m.lanes, teamID)
	}
}

// Key helpers

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() string {
	return fmt.Sprintf("queue:%s:index:", m.queueName)
}

// indexKey zero-pads priority and timestamp so byte order matches
// (priority, visibleAt) order.
func (m *BadgerManager) indexKey(priority int, visibleAt time.Time, id string) []byte {
	if priority < 0 {
		priority = 0
	}
	if priority > 999 {
		priority = 999
	}
	return []byte(fmt.Sprintf("%s%03d:%020d:%s", m.indexPrefix(), priority, visibleAt.UnixNano(), id))
}

// bandEnd returns the first key past a priority band. ';' is ':'+1 in byte
// order, so seeking to it skips the whole band.
func (m *BadgerManager) bandEnd(priority int) []byte {
	return []byte(fmt.Sprintf("%s%03d;", m.indexPrefix(), priority))
}

func (m *BadgerManager) parseIndexKey(key []byte) (int, time.Time, string, error) {
	prefix := m.indexPrefix()
	if len(key) <= len(prefix) {
		return 0, time.Time{}, "", fmt.Errorf("index key too short")
	}

	suffix := string(key[len(prefix):])
	parts := strings.SplitN(suffix, ":", 3)
	if len(parts) != 3 {
		return 0, time.Time{}, "", fmt.Errorf("malformed index key %q", suffix)
	}

	pri, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("bad priority in index key: %w", err)
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, "", fmt.Errorf("bad timestamp in index key: %w", err)
	}
	return pri, time.Unix(0, nanos), parts[2], nil
}
