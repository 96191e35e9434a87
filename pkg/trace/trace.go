// Package trace provides correlation IDs and the persisted audit trail.
// Every externally-triggered operation gets a correlation ID threaded
// through its context; the Auditor emits queryable entries that share it,
// so one end-to-end operation can be reconstructed across handlers.
package trace

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jesterbot/gateway/pkg/gateway"
	"github.com/jesterbot/gateway/pkg/logger"
	"github.com/jesterbot/gateway/pkg/storage"
)

type contextKey struct{}

// correlationIDLength truncates UUIDs to a short, log-friendly token.
const correlationIDLength = 8

// NewCorrelationID generates a fresh correlation token.
func NewCorrelationID() string {
	return uuid.NewString()[:correlationIDLength]
}

// WithCorrelationID returns a context carrying the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// CorrelationID returns the context's correlation ID, or "" when none is
// set.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// EnsureCorrelationID returns the context's correlation ID, minting and
// attaching a fresh one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := CorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelationID(ctx, id), id
}

// insertTimeout bounds each background store write so a wedged database
// cannot stall the drain loop indefinitely.
const insertTimeout = 5 * time.Second

// Auditor emits audit entries. Persistence is fire-and-forget: entries go
// through a bounded queue drained by a background goroutine, and when the
// queue is full the oldest entry is dropped rather than blocking the
// caller. Audit failures never propagate to business operations.
type Auditor struct {
	store   storage.LogStore
	queue   chan gateway.AuditEntry
	done    chan struct{}
	stopped chan struct{}
	dropped atomic.Int64

	// onDrop, when set, is invoked once per dropped entry.
	onDrop func()
}

// NewAuditor starts an auditor draining into store. queueSize bounds the
// in-flight entries; onDrop may be nil.
func NewAuditor(store storage.LogStore, queueSize int, onDrop func()) *Auditor {
	if queueSize <= 0 {
		queueSize = 256
	}
	a := &Auditor{
		store:   store,
		queue:   make(chan gateway.AuditEntry, queueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		onDrop:  onDrop,
	}
	go a.drain()
	return a
}

// Close stops the drain loop after flushing queued entries.
func (a *Auditor) Close() {
	close(a.done)
	<-a.stopped
}

// Dropped reports how many entries have been discarded under backpressure.
func (a *Auditor) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Auditor) drain() {
	defer close(a.stopped)
	for {
		select {
		case entry := <-a.queue:
			a.persist(entry)
		case <-a.done:
			// Flush whatever is still queued, then stop.
			for {
				select {
				case entry := <-a.queue:
					a.persist(entry)
				default:
					return
				}
			}
		}
	}
}

func (a *Auditor) persist(entry gateway.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := a.store.Insert(ctx, &entry); err != nil {
		logger.Warnf("audit entry not persisted: %v", err)
	}
}

// enqueue offers an entry to the queue without ever blocking. Under
// backpressure the oldest queued entry is evicted to make room.
func (a *Auditor) enqueue(entry gateway.AuditEntry) {
	select {
	case a.queue <- entry:
		return
	default:
	}

	select {
	case <-a.queue:
		a.dropOne()
	default:
	}
	select {
	case a.queue <- entry:
	default:
		a.dropOne()
	}
}

func (a *Auditor) dropOne() {
	a.dropped.Add(1)
	if a.onDrop != nil {
		a.onDrop()
	}
}

// Span tracks one audited operation from START to its terminal entry.
// OwnerID and SourceID, when set before the terminal call, are carried on
// every subsequent entry.
type Span struct {
	auditor       *Auditor
	operation     gateway.Operation
	method        string
	correlationID string
	startedAt     time.Time

	OwnerID  string
	SourceID string
}

// Start emits a START entry and begins the monotonic timer for one
// operation. The context's correlation ID is used as-is; a missing one is
// minted on the spot (callers should prefer EnsureCorrelationID up front).
func (a *Auditor) Start(ctx context.Context, op gateway.Operation, method string, details map[string]string) *Span {
	correlationID := CorrelationID(ctx)
	if correlationID == "" {
		correlationID = NewCorrelationID()
	}
	span := &Span{
		auditor:       a,
		operation:     op,
		method:        method,
		correlationID: correlationID,
		startedAt:     time.Now(),
	}
	span.emit(gateway.LevelInfo, gateway.StatusStart, method+" started", 0, details)
	return span
}

// Progress emits an IN_PROGRESS entry.
func (s *Span) Progress(message string, details map[string]string) {
	s.emit(gateway.LevelInfo, gateway.StatusInProgress, message, s.elapsed(), details)
}

// Warn emits a WARNING entry without terminating the span.
func (s *Span) Warn(message string, details map[string]string) {
	s.emit(gateway.LevelWarning, gateway.StatusWarning, message, s.elapsed(), details)
}

// Succeed emits the terminal SUCCESS entry.
func (s *Span) Succeed(details map[string]string) {
	s.emit(gateway.LevelInfo, gateway.StatusSuccess, s.method+" succeeded", s.elapsed(), details)
}

// Fail emits the terminal FAILED entry carrying the error text and its
// failure classification.
func (s *Span) Fail(err error, details map[string]string) {
	if details == nil {
		details = map[string]string{}
	}
	details["error_class"] = string(gateway.ClassOf(err))
	s.emit(gateway.LevelError, gateway.StatusFailed, s.method+" failed: "+err.Error(), s.elapsed(), details)
}

func (s *Span) elapsed() float64 {
	return time.Since(s.startedAt).Seconds()
}

func (s *Span) emit(level gateway.Level, status gateway.Status, message string, elapsed float64, details map[string]string) {
	logger.Infow("audit",
		"correlation_id", s.correlationID,
		"operation", string(s.operation),
		"status", string(status),
		"method", s.method,
		"message", message,
	)
	s.auditor.enqueue(gateway.AuditEntry{
		Timestamp:     time.Now().UnixMilli(),
		Level:         level,
		Operation:     s.operation,
		Status:        status,
		Method:        s.method,
		Message:       message,
		OwnerID:       s.OwnerID,
		SourceID:      s.SourceID,
		CorrelationID: s.correlationID,
		ElapsedSec:    elapsed,
		Details:       details,
	})
}
