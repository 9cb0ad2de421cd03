// Package service holds the application services that sit between the reactor and the issuer.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/internal/infrastructure/workerpool"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// Delivery receives the outcome of a credential request. It always runs on the goroutine that
// drains the Poster, never on a worker.
// Delivery 接收凭证请求的结果，始终在 Poster 的消费协程上执行。
type Delivery func(bundle *models.CredentialBundle, err error)

// Poster schedules a callback on the reactor goroutine.
type Poster interface {
	Post(task func())
}

// Submitter runs jobs on a worker goroutine.
type Submitter interface {
	Submit(job workerpool.Job) error
}

type entryState int

const (
	stateInProgress entryState = iota
	stateSucceeded
	stateFailed
)

// pendingEntry is the per-name cache value. All fields are guarded by Coalescer.mu.
type pendingEntry struct {
	state   entryState
	waiters []Delivery
	bundle  *models.CredentialBundle
}

// CoalescerStats is a point-in-time view of the cache.
type CoalescerStats struct {
	Entries  int `json:"entries"`
	InFlight int `json:"in_flight"`
	// Waiters counts requests attached to in-flight issuances.
	Waiters int `json:"waiters"`
}

// Coalescer runs at most one issuance per name at a time and fans the outcome out to every
// requester. Successful bundles are retained for the configured TTL (forever when zero);
// failures are evicted so the next request retries.
// Coalescer 保证每个名称同一时刻至多一次签发，并将结果分发给所有请求方。
type Coalescer struct {
	issuer  service.Issuer
	pool    Submitter
	inbox   Poster
	audit   service.AuditSink
	metrics service.Metrics
	logger  logger.Logger
	ttl     time.Duration

	mu       sync.Mutex
	entries  *cache.Cache
	inFlight int
	waiting  int
}

// NewCoalescer creates a new Coalescer.
//
// Parameters:
//   - issuer: the blocking credential issuer, invoked on pool workers
//   - pool: the worker pool issuance jobs are submitted to
//   - inbox: where outcome deliveries are posted
//   - audit: receives one event per finished issuance; may be nil
//   - metrics: may be nil
//   - cfg: success retention settings
//   - log: the logger
func NewCoalescer(
	issuer service.Issuer,
	pool Submitter,
	inbox Poster,
	audit service.AuditSink,
	metrics service.Metrics,
	cfg config.CacheConfig,
	log logger.Logger,
) *Coalescer {
	if metrics == nil {
		metrics = service.NoopMetrics{}
	}
	ttl := cfg.SuccessTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	cleanup := cfg.CleanupInterval
	if cfg.SuccessTTL <= 0 {
		cleanup = 0
	}
	return &Coalescer{
		issuer:  issuer,
		pool:    pool,
		inbox:   inbox,
		audit:   audit,
		metrics: metrics,
		logger:  log.WithComponent("coalescer"),
		ttl:     ttl,
		entries: cache.New(cache.NoExpiration, cleanup),
	}
}

// Request attaches deliver to the outcome for name, submitting an issuance when none is in
// flight or retained. deliver is posted to the inbox exactly once.
func (c *Coalescer) Request(ctx context.Context, name string, deliver Delivery) {
	c.mu.Lock()
	if v, found := c.entries.Get(name); found {
		e := v.(*pendingEntry)
		switch e.state {
		case stateSucceeded:
			bundle := e.bundle
			c.mu.Unlock()
			c.metrics.RecordCoalesced()
			c.logger.Debug(ctx, "Serving retained credential")
			c.inbox.Post(func() { deliver(bundle, nil) })
			return
		case stateInProgress:
			e.waiters = append(e.waiters, deliver)
			c.waiting++
			waiters := len(e.waiters)
			c.mu.Unlock()
			c.metrics.RecordCoalesced()
			c.logger.Debug(ctx, "Joined in-flight issuance", logger.Int("waiters", waiters))
			return
		}
	}

	e := &pendingEntry{state: stateInProgress, waiters: []Delivery{deliver}}
	c.entries.Set(name, e, cache.NoExpiration)
	c.inFlight++
	c.waiting++
	c.metrics.SetCacheEntries(c.entries.ItemCount())
	c.mu.Unlock()

	issueCtx := context.WithoutCancel(ctx)
	job := workerpool.Job{
		Run: func() {
			start := time.Now()
			bundle, err := c.issuer.Issue(issueCtx, name)
			c.complete(issueCtx, name, e, bundle, err, time.Since(start))
		},
		Drop: func(err error) {
			c.complete(issueCtx, name, e, nil, err, 0)
		},
	}
	if err := c.pool.Submit(job); err != nil {
		c.complete(issueCtx, name, e, nil, err, 0)
		return
	}
	c.logger.Debug(ctx, "Issuance submitted")
}

// complete records the outcome of e and posts it to every waiter. Only the first call for a
// given entry has any effect.
func (c *Coalescer) complete(ctx context.Context, name string, e *pendingEntry, bundle *models.CredentialBundle, err error, elapsed time.Duration) {
	if err == nil && bundle == nil {
		err = errors.New(errors.CodeIssuanceFailed, "issuer returned no credential")
	}

	c.mu.Lock()
	if e.state != stateInProgress {
		c.mu.Unlock()
		return
	}
	waiters := e.waiters
	e.waiters = nil
	c.inFlight--
	c.waiting -= len(waiters)
	if err == nil {
		e.state = stateSucceeded
		e.bundle = bundle
		c.entries.Set(name, e, c.ttl)
	} else {
		e.state = stateFailed
		bundle = nil
		if v, found := c.entries.Get(name); found && v.(*pendingEntry) == e {
			c.entries.Delete(name)
		}
	}
	c.metrics.SetCacheEntries(c.entries.ItemCount())
	c.mu.Unlock()

	result := constants.ResultSuccess
	if err != nil {
		result = constants.ResultFailure
		c.logger.Error(ctx, "Credential issuance failed", err,
			logger.String("name", name), logger.Int("waiters", len(waiters)))
	} else {
		c.logger.Info(ctx, "Credential issued",
			logger.String("name", name),
			logger.Int("waiters", len(waiters)),
			logger.Duration("elapsed", elapsed))
	}
	c.metrics.RecordIssuance(result, elapsed)

	for _, deliver := range waiters {
		deliver := deliver
		c.inbox.Post(func() { deliver(bundle, err) })
	}

	c.recordAudit(ctx, name, err, elapsed)
}

func (c *Coalescer) recordAudit(ctx context.Context, name string, err error, elapsed time.Duration) {
	if c.audit == nil {
		return
	}
	event := models.AuditEvent{
		ID:       uuid.NewString(),
		Name:     name,
		Success:  err == nil,
		Duration: elapsed,
		At:       time.Now().UTC(),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if auditErr := c.audit.Record(ctx, event); auditErr != nil {
		c.logger.Warn(ctx, "Failed to record audit event", logger.Error(auditErr), logger.String("event_id", event.ID))
	}
}

// Stats returns the number of cached names, how many of them are still being issued and
// how many requests wait on those issuances.
func (c *Coalescer) Stats() CoalescerStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CoalescerStats{
		Entries:  c.entries.ItemCount(),
		InFlight: c.inFlight,
		Waiters:  c.waiting,
	}
}
