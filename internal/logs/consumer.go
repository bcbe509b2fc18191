package logs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"
	"github.com/ternarybob/arbor"
	arborlevels "github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/messor/internal/interfaces"
	"github.com/ternarybob/messor/internal/models"
)

// Consumer drains log batches from arbor's context channel and republishes
// them as log events for streaming clients. Correlation IDs carry the crawl
// or research run a line belongs to, so subscribers can filter per run.
type Consumer struct {
	eventService  interfaces.EventService
	logger        arbor.ILogger
	channel       chan []arbormodels.LogEvent
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	minEventLevel arbor.LogLevel

	// Guards against the event publish itself being logged and re-entering
	// the channel in a loop.
	publishing sync.Map
}

// NewConsumer creates a log consumer. minEventLevel filters which lines are
// republished as events; everything below it only reaches the log writers.
func NewConsumer(eventService interfaces.EventService, logger arbor.ILogger, minEventLevel string) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		eventService:  eventService,
		logger:        logger,
		channel:       make(chan []arbormodels.LogEvent, 10),
		ctx:           ctx,
		cancel:        cancel,
		minEventLevel: parseLogLevel(minEventLevel),
	}
}

// parseLogLevel converts a string log level to arbor.LogLevel
func parseLogLevel(levelStr string) arbor.LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug":
		return arbor.DebugLevel
	case "info":
		return arbor.InfoLevel
	case "warn", "warning":
		return arbor.WarnLevel
	case "error":
		return arbor.ErrorLevel
	default:
		return arbor.InfoLevel
	}
}

// convertTo3Letter converts full level names to 3-letter display codes
func convertTo3Letter(level string) string {
	switch strings.ToUpper(level) {
	case "INFO":
		return "INF"
	case "WARN", "WARNING":
		return "WRN"
	case "ERROR":
		return "ERR"
	case "DEBUG":
		return "DBG"
	default:
		if len(level) == 3 {
			return strings.ToUpper(level)
		}
		return "INF"
	}
}

// GetChannel returns the channel arbor sends log batches to
func (c *Consumer) GetChannel() chan []arbormodels.LogEvent {
	return c.channel
}

// Start launches the consumer goroutine
func (c *Consumer) Start() error {
	c.wg.Add(1)
	go c.consume()
	return nil
}

// Stop shuts down the consumer
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info().Msg("Log consumer stopped")
	return nil
}

func (c *Consumer) consume() {
	defer c.wg.Done()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Log consumer panic recovered")
		}
	}()

	for {
		select {
		case batch, ok := <-c.channel:
			if !ok {
				return
			}

			for _, event := range batch {
				// Request tracing noise stays out of the stream
				if strings.HasPrefix(event.Message, "HTTP request") ||
					strings.Contains(event.Message, "WebSocket client") {
					continue
				}

				if c.eventService != nil && c.shouldPublish(event.Level) {
					c.publishLogEvent(event)
				}
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// shouldPublish checks the level threshold. Arbor hands levels over in
// phuslu's representation; bridge before comparing.
func (c *Consumer) shouldPublish(level log.Level) bool {
	return arborlevels.FromLogLevel(level) >= c.minEventLevel
}

func (c *Consumer) publishLogEvent(event arbormodels.LogEvent) {
	key := fmt.Sprintf("%s:%s", event.CorrelationID, event.Message)
	if _, loaded := c.publishing.LoadOrStore(key, true); loaded {
		return
	}
	defer c.publishing.Delete(key)

	entry := transformEvent(event)
	if err := c.eventService.Publish(c.ctx, interfaces.Event{
		Type:    interfaces.EventLogEntry,
		Payload: entry,
	}); err != nil {
		c.logger.Warn().
			Err(err).
			Str("correlation_id", event.CorrelationID).
			Msg("Failed to publish log event")
	}
}

// transformEvent shapes an arbor log event for streaming clients
func transformEvent(event arbormodels.LogEvent) models.LogEntry {
	message := event.Message
	if len(event.Fields) > 0 {
		for key, value := range event.Fields {
			message += fmt.Sprintf(" %s=%v", key, value)
		}
	}

	return models.LogEntry{
		Timestamp:     event.Timestamp.Format("15:04:05"),
		FullTimestamp: event.Timestamp.Format(time.RFC3339),
		Level:         convertTo3Letter(event.Level.String()),
		Message:       message,
		CorrelationID: event.CorrelationID,
	}
}
