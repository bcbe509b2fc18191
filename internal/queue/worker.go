package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/messor/internal/common"
	"github.com/ternarybob/messor/internal/models"
)

// WorkerPool runs a fixed set of workers that poll the queue and dispatch
// claimed messages to registered handlers by job type.
type WorkerPool struct {
	manager      *BadgerManager
	handlers     map[string]JobHandler
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewWorkerPool creates a worker pool over a queue manager
func NewWorkerPool(manager *BadgerManager, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		manager:      manager,
		handlers:     make(map[string]JobHandler),
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// RegisterHandler registers a job type handler. Call before Start; the
// handler map is not guarded once workers run.
func (wp *WorkerPool) RegisterHandler(jobType string, handler JobHandler) {
	wp.handlers[jobType] = handler
	wp.logger.Debug().
		Str("job_type", jobType).
		Msg("Job handler registered")
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() error {
	wp.logger.Info().
		Int("concurrency", wp.concurrency).
		Dur("poll_interval", wp.pollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight handlers to return
func (wp *WorkerPool) Stop() error {
	wp.logger.Info().Msg("Stopping worker pool")
	wp.cancel()
	wp.wg.Wait()
	return nil
}

// worker polls for messages until the pool is stopped
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	// Stagger worker starts to spread claim contention across the poll window
	stagger := (wp.pollInterval / time.Duration(wp.concurrency)) * time.Duration(workerID)
	if stagger > 0 {
		select {
		case <-wp.ctx.Done():
			return
		case <-time.After(stagger):
		}
	}

	wp.logger.Debug().
		Int("worker_id", workerID).
		Dur("stagger_delay", stagger).
		Msg("Worker started")

	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug().
				Int("worker_id", workerID).
				Msg("Worker stopped")
			return

		case <-ticker.C:
			// Drain until the queue has nothing claimable, then wait for
			// the next tick.
			for {
				if wp.ctx.Err() != nil {
					return
				}
				err := wp.processMessage(workerID)
				if err == nil {
					continue
				}
				if !errors.Is(err, ErrNoMessage) {
					wp.logger.Warn().
						Err(err).
						Int("worker_id", workerID).
						Msg("Error processing message")
				}
				break
			}
		}
	}
}

// processMessage claims and runs a single message
func (wp *WorkerPool) processMessage(workerID int) error {
	msg, err := wp.manager.Receive(wp.ctx)
	if err != nil {
		if errors.Is(err, ErrNoMessage) || errors.Is(err, context.Canceled) {
			return ErrNoMessage
		}
		// Contending workers clash on the same index keys; back off to the
		// next tick rather than log every collision.
		if errors.Is(err, badger.ErrConflict) {
			return ErrNoMessage
		}
		return fmt.Errorf("failed to receive message: %w", err)
	}

	handler, exists := wp.handlers[msg.Type]
	if !exists {
		wp.logger.Error().
			Str("type", msg.Type).
			Str("message_id", msg.ID).
			Msg("No handler registered for job type")
		rec := &models.ErrorRecord{
			Code:    models.ErrCodeValidation,
			Message: fmt.Sprintf("no handler registered for job type %q", msg.Type),
		}
		if _, ferr := wp.manager.Fail(wp.ctx, msg, rec); ferr != nil {
			wp.logger.Warn().Err(ferr).Str("message_id", msg.ID).Msg("Failed to dead-letter unroutable message")
		}
		return nil
	}

	wp.logger.Debug().
		Str("message_id", msg.ID).
		Str("type", msg.Type).
		Int("worker_id", workerID).
		Msg("Processing message")

	start := time.Now()
	handlerErr := wp.runHandler(workerID, handler, msg)
	duration := time.Since(start)

	if handlerErr != nil {
		rec := models.RecordFromError(handlerErr)
		outcome, ferr := wp.manager.Fail(wp.ctx, msg, rec)
		if ferr != nil {
			wp.logger.Warn().
				Err(ferr).
				Str("message_id", msg.ID).
				Msg("Failed to route message failure")
			return ferr
		}

		wp.logger.Warn().
			Err(handlerErr).
			Str("message_id", msg.ID).
			Str("type", msg.Type).
			Str("error_code", string(rec.Code)).
			Str("outcome", string(outcome)).
			Dur("duration", duration).
			Int("worker_id", workerID).
			Msg("Job handler failed")
		return nil
	}

	if err := wp.manager.Ack(wp.ctx, msg); err != nil {
		wp.logger.Warn().
			Err(err).
			Str("message_id", msg.ID).
			Msg("Failed to ack message after successful processing")
		return err
	}

	wp.logger.Info().
		Str("message_id", msg.ID).
		Str("type", msg.Type).
		Dur("duration", duration).
		Int("worker_id", workerID).
		Msg("Job completed")
	return nil
}

// runHandler invokes the handler with the panic barrier in place. A
// panicking handler is recorded as a job failure so the worker survives;
// the crash report carries the stack for diagnosis.
func (wp *WorkerPool) runHandler(workerID int, handler JobHandler, msg *JobMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := common.GetStackTrace()
			wp.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", stackTrace).
				Str("message_id", msg.ID).
				Int("worker_id", workerID).
				Msg("Job handler panicked")
			common.WriteCrashFile(r, stackTrace)
			err = &models.ErrorRecord{
				Code:    models.ErrCodeUnknown,
				Message: fmt.Sprintf("handler panic: %v", r),
			}
		}
	}()
	return handler(wp.ctx, msg)
}
