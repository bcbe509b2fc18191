package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/messor/internal/models"
	"github.com/ternarybob/messor/internal/queue"
)

// QueueManager manages the durable job queue. Messages survive process
// restarts; priority is a scheduling hint (numerically lower first), not a
// sequencing contract.
type QueueManager interface {
	Start() error
	Stop() error

	// Enqueue adds a message at its priority
	Enqueue(ctx context.Context, msg *queue.JobMessage) error

	// EnqueueWithDelay adds a message that becomes visible after delay
	EnqueueWithDelay(ctx context.Context, msg *queue.JobMessage, delay time.Duration) error

	// Receive claims the next visible message, honoring team lanes.
	// Returns queue.ErrNoMessage when nothing is claimable.
	Receive(ctx context.Context) (*queue.JobMessage, error)

	// Ack removes a successfully processed message
	Ack(ctx context.Context, msg *queue.JobMessage) error

	// Fail records a failure: transient errors reschedule with backoff until
	// the receive budget runs out, everything else dead-letters.
	Fail(ctx context.Context, msg *queue.JobMessage, rec *models.ErrorRecord) (queue.FailOutcome, error)

	// Size returns the number of pending messages
	Size(ctx context.Context) (int, error)

	// DeadLetters lists dead-lettered messages, newest first
	DeadLetters(ctx context.Context, limit int) ([]*queue.DeadLetter, error)

	// Stats returns queue counters for diagnostics
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// WorkerPool manages concurrent job processing
type WorkerPool interface {
	RegisterHandler(jobType string, handler queue.JobHandler)
	Start() error
	Stop() error
}
