// EdgeWatch - Edge Sensor Telemetry Anomaly Detection
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/edgewatch

package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/edgewatch/internal/breaker"
	"github.com/tomtom215/edgewatch/internal/detection"
	"github.com/tomtom215/edgewatch/internal/logging"
	"github.com/tomtom215/edgewatch/internal/metrics"
)

// ErrDeferred is returned when a write could not be applied now and was
// queued for retry. It wraps detection.ErrPersistence.
var ErrDeferred = fmt.Errorf("%w: queued for retry", detection.ErrPersistence)

// ErrOutboxClosed is returned after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// Operation kinds stored in the outbox.
const (
	OpWindowSummary = "window_summary"
	OpAlert         = "alert"
	OpConfirmation  = "confirmation"
)

const prefixPending = "pending:"

// OutboxEntry is one queued write.
type OutboxEntry struct {
	Key           string          `json:"key"`
	Op            string          `json:"op"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
}

// OutboxConfig configures the outbox.
type OutboxConfig struct {
	// Path is the badger directory. Empty opens an in-memory outbox.
	Path          string
	RetryInterval time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	SyncWrites    bool
}

// DefaultOutboxConfig returns production defaults.
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		RetryInterval: 5 * time.Second,
		MaxBackoff:    5 * time.Minute,
		MaxAttempts:   20,
		SyncWrites:    true,
	}
}

// Outbox is a durable badger-backed queue in front of a detection.Store.
// Every write is persisted to badger first, applied to the sink through a
// circuit breaker, and removed once applied. Writes that fail stay queued
// and are retried with exponential backoff by Run.
type Outbox struct {
	db   *badger.DB
	sink detection.Store
	cb   *gobreaker.CircuitBreaker[detection.Confirmation]
	cfg  OutboxConfig

	mu     sync.RWMutex
	closed bool

	// Keys currently being applied, so Run never replays a write that an
	// inline call is still applying.
	processing sync.Map
}

// OpenOutbox opens the badger queue at cfg.Path in front of sink.
func OpenOutbox(cfg OutboxConfig, sink detection.Store) (*Outbox, error) {
	if sink == nil {
		return nil, fmt.Errorf("outbox: sink is required")
	}
	def := DefaultOutboxConfig()
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = def.RetryInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.Path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.SyncWrites = cfg.SyncWrites
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	o := &Outbox{
		db:   db,
		sink: sink,
		cb:   breaker.New[detection.Confirmation](breaker.DefaultConfig("outbox-sink")),
		cfg:  cfg,
	}
	depth := o.Depth()
	metrics.OutboxDepth.Set(float64(depth))
	logging.Info().
		Str("path", cfg.Path).
		Int("pending", depth).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Outbox opened")
	return o, nil
}

// WriteWindowSummary queues and applies a summary.
func (o *Outbox) WriteWindowSummary(ctx context.Context, s detection.WindowSummary) error {
	_, err := o.write(ctx, OpWindowSummary, s)
	return err
}

// WriteAlert queues and applies an alert.
func (o *Outbox) WriteAlert(ctx context.Context, a *detection.Alert) error {
	_, err := o.write(ctx, OpAlert, a)
	return err
}

// WriteConfirmation queues and applies a confirmation. AlertFound is only
// known when the sink applied it immediately.
func (o *Outbox) WriteConfirmation(ctx context.Context, c detection.Confirmation) (detection.Confirmation, error) {
	res, err := o.write(ctx, OpConfirmation, c)
	if err != nil {
		return c, err
	}
	return res, nil
}

// ListAlerts reads straight from the sink.
func (o *Outbox) ListAlerts(ctx context.Context, f detection.AlertFilter) ([]detection.Alert, error) {
	return o.sink.ListAlerts(ctx, f)
}

func (o *Outbox) write(ctx context.Context, op string, v interface{}) (detection.Confirmation, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return detection.Confirmation{}, fmt.Errorf("%w: encode %s: %w", detection.ErrPersistence, op, err)
	}
	entry := &OutboxEntry{
		Key:       fmt.Sprintf("%s%020d:%s", prefixPending, time.Now().UnixNano(), uuid.New().String()),
		Op:        op,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	o.processing.Store(entry.Key, struct{}{})
	defer o.processing.Delete(entry.Key)

	if err := o.put(entry); err != nil {
		return detection.Confirmation{}, fmt.Errorf("%w: enqueue %s: %w", detection.ErrPersistence, op, err)
	}
	metrics.OutboxDepth.Inc()

	res, applyErr := o.apply(ctx, entry)
	if applyErr != nil {
		if err := o.recordAttempt(entry, applyErr); err != nil {
			logging.Error().Err(err).Str("key", entry.Key).Msg("Outbox failed to record attempt")
		}
		return detection.Confirmation{}, fmt.Errorf("%w: %s: %w", ErrDeferred, op, applyErr)
	}
	o.remove(entry.Key)
	return res, nil
}

// apply replays entry against the sink through the breaker.
func (o *Outbox) apply(ctx context.Context, e *OutboxEntry) (detection.Confirmation, error) {
	return o.cb.Execute(func() (detection.Confirmation, error) {
		switch e.Op {
		case OpWindowSummary:
			var s detection.WindowSummary
			if err := json.Unmarshal(e.Payload, &s); err != nil {
				return detection.Confirmation{}, err
			}
			return detection.Confirmation{}, o.sink.WriteWindowSummary(ctx, s)
		case OpAlert:
			var a detection.Alert
			if err := json.Unmarshal(e.Payload, &a); err != nil {
				return detection.Confirmation{}, err
			}
			return detection.Confirmation{}, o.sink.WriteAlert(ctx, &a)
		case OpConfirmation:
			var c detection.Confirmation
			if err := json.Unmarshal(e.Payload, &c); err != nil {
				return detection.Confirmation{}, err
			}
			return o.sink.WriteConfirmation(ctx, c)
		default:
			return detection.Confirmation{}, fmt.Errorf("unknown outbox op %q", e.Op)
		}
	})
}

// Run drains the queue every RetryInterval until ctx is canceled.
func (o *Outbox) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.RetryInterval)
	defer ticker.Stop()

	logging.Info().Dur("interval", o.cfg.RetryInterval).Msg("Outbox drain loop started")
	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("Outbox drain loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := o.Drain(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logging.Error().Err(err).Msg("Outbox drain failed")
			}
		}
	}
}

// Drain makes one pass over the queue: entries past MaxAttempts are
// dropped, entries still backing off are skipped, the rest are replayed
// oldest first. A pass stops early when the sink's breaker is open.
func (o *Outbox) Drain(ctx context.Context) error {
	entries, err := o.pending(ctx)
	if err != nil {
		return err
	}

	var applied, failed, dropped int
	for _, e := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, busy := o.processing.LoadOrStore(e.Key, struct{}{}); busy {
			continue
		}

		switch {
		case e.Attempts >= o.cfg.MaxAttempts:
			o.remove(e.Key)
			metrics.OutboxDropped.Inc()
			dropped++
			logging.Error().
				Str("key", e.Key).
				Str("op", e.Op).
				Int("attempts", e.Attempts).
				Str("last_error", e.LastError).
				Msg("Outbox entry exceeded max attempts, dropping")
		case !o.readyForRetry(e):
			// still backing off
		default:
			if _, err := o.apply(ctx, e); err != nil {
				failed++
				metrics.OutboxRetries.WithLabelValues("failure").Inc()
				if uerr := o.recordAttempt(e, err); uerr != nil {
					logging.Error().Err(uerr).Str("key", e.Key).Msg("Outbox failed to record attempt")
				}
				if breaker.IsOpen(err) {
					o.processing.Delete(e.Key)
					logging.Warn().Msg("Outbox sink breaker open, ending drain pass")
					return nil
				}
			} else {
				applied++
				metrics.OutboxRetries.WithLabelValues("success").Inc()
				o.remove(e.Key)
			}
		}
		o.processing.Delete(e.Key)
	}

	if applied > 0 || failed > 0 || dropped > 0 {
		logging.Info().
			Int("applied", applied).
			Int("failed", failed).
			Int("dropped", dropped).
			Msg("Outbox drain complete")
	}
	return nil
}

// readyForRetry applies RetryInterval * 2^attempts capped at MaxBackoff.
func (o *Outbox) readyForRetry(e *OutboxEntry) bool {
	if e.LastAttemptAt.IsZero() {
		return true
	}
	return time.Since(e.LastAttemptAt) >= o.backoff(e.Attempts)
}

func (o *Outbox) backoff(attempts int) time.Duration {
	if attempts > 50 {
		return o.cfg.MaxBackoff
	}
	d := time.Duration(float64(o.cfg.RetryInterval) * math.Pow(2, float64(attempts-1)))
	if d < 0 || d > o.cfg.MaxBackoff {
		return o.cfg.MaxBackoff
	}
	return d
}

// Depth returns the number of queued entries.
func (o *Outbox) Depth() int {
	var n int
	err := o.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		logging.Warn().Err(err).Msg("Outbox failed to count entries")
	}
	return n
}

// Close closes the badger database.
func (o *Outbox) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.db.Close()
}

func (o *Outbox) put(e *OutboxEntry) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrOutboxClosed
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return o.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.Key), data)
	})
}

func (o *Outbox) recordAttempt(e *OutboxEntry, cause error) error {
	e.Attempts++
	e.LastAttemptAt = time.Now().UTC()
	e.LastError = cause.Error()
	return o.put(e)
}

func (o *Outbox) remove(key string) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return
	}
	if err := o.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		logging.Error().Err(err).Str("key", key).Msg("Outbox failed to delete entry")
		return
	}
	metrics.OutboxDepth.Dec()
}

// pending returns queued entries oldest first.
func (o *Outbox) pending(ctx context.Context) ([]*OutboxEntry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return nil, ErrOutboxClosed
	}

	var entries []*OutboxEntry
	err := o.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixPending)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e OutboxEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Outbox failed to decode entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return entries, nil
}
