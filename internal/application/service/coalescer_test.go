package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service/mocks"
	"github.com/turtacn/certforge/internal/infrastructure/workerpool"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// inlinePoster runs posted tasks on the posting goroutine.
type inlinePoster struct{}

func (inlinePoster) Post(task func()) { task() }

type outcome struct {
	bundle *models.CredentialBundle
	err    error
}

func collector(ch chan<- outcome) Delivery {
	return func(bundle *models.CredentialBundle, err error) {
		ch <- outcome{bundle: bundle, err: err}
	}
}

func receive(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
		return outcome{}
	}
}

func testBundle(name string) *models.CredentialBundle {
	return &models.CredentialBundle{
		Name:           name,
		PrivateKeyPEM:  []byte("key-" + name),
		CertificatePEM: []byte("cert-" + name),
		IssuedAt:       time.Now(),
	}
}

func newTestCoalescer(t *testing.T, issuer *mocks.MockIssuer, poolSize int, cfg config.CacheConfig) (*Coalescer, *workerpool.Pool) {
	t.Helper()
	pool := workerpool.New(poolSize, nil, logger.NewNoopLogger())
	t.Cleanup(pool.Close)
	return NewCoalescer(issuer, pool, inlinePoster{}, nil, nil, cfg, logger.NewNoopLogger()), pool
}

func TestCoalescer_SameNameIssuedOnce(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	bundle := testBundle("alice")
	issuer.On("Issue", mock.Anything, "alice").Run(func(mock.Arguments) {
		started <- struct{}{}
		<-release
	}).Return(bundle, nil)

	c, _ := newTestCoalescer(t, issuer, 4, config.CacheConfig{})

	const waiters = 10
	results := make(chan outcome, waiters+1)
	c.Request(context.Background(), "alice", collector(results))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("issuance never started")
	}

	// every later request joins the issuance that is already running
	for i := 1; i < waiters; i++ {
		c.Request(context.Background(), "alice", collector(results))
	}
	assert.Equal(t, CoalescerStats{Entries: 1, InFlight: 1, Waiters: waiters}, c.Stats())
	assert.Empty(t, results)

	close(release)
	for i := 0; i < waiters; i++ {
		o := receive(t, results)
		require.NoError(t, o.err)
		assert.Same(t, bundle, o.bundle)
	}

	// retained: served without a new issuance
	c.Request(context.Background(), "alice", collector(results))
	o := receive(t, results)
	require.NoError(t, o.err)
	assert.Same(t, bundle, o.bundle)

	issuer.AssertNumberOfCalls(t, "Issue", 1)
	assert.Equal(t, CoalescerStats{Entries: 1, InFlight: 0}, c.Stats())
}

func TestCoalescer_JoinWhileCompleting(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	bundle := testBundle("busy")
	issuer.On("Issue", mock.Anything, "busy").Run(func(mock.Arguments) {
		started <- struct{}{}
		<-release
	}).Return(bundle, nil)

	c, _ := newTestCoalescer(t, issuer, 2, config.CacheConfig{})

	const requesters = 64
	results := make(chan outcome, requesters+1)
	c.Request(context.Background(), "busy", collector(results))
	<-started

	// requests race with the worker finishing the entry
	var g errgroup.Group
	for i := 0; i < requesters; i++ {
		if i == requesters/2 {
			close(release)
		}
		g.Go(func() error {
			c.Request(context.Background(), "busy", collector(results))
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i := 0; i < requesters+1; i++ {
		o := receive(t, results)
		require.NoError(t, o.err)
		assert.Same(t, bundle, o.bundle)
	}
	issuer.AssertNumberOfCalls(t, "Issue", 1)
	assert.Equal(t, CoalescerStats{Entries: 1}, c.Stats())
}

func TestCoalescer_FailureIsEvictedAndRetried(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	bundle := testBundle("x")
	issuer.On("Issue", mock.Anything, "x").Return(nil, fmt.Errorf("signing failed")).Once()
	issuer.On("Issue", mock.Anything, "x").Return(bundle, nil).Once()

	c, _ := newTestCoalescer(t, issuer, 1, config.CacheConfig{})
	results := make(chan outcome, 2)

	c.Request(context.Background(), "x", collector(results))
	o := receive(t, results)
	require.Error(t, o.err)
	assert.Nil(t, o.bundle)
	assert.Equal(t, 0, c.Stats().Entries)

	c.Request(context.Background(), "x", collector(results))
	o = receive(t, results)
	require.NoError(t, o.err)
	assert.Same(t, bundle, o.bundle)

	issuer.AssertNumberOfCalls(t, "Issue", 2)
}

func TestCoalescer_DistinctNamesRunConcurrently(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	started := make(chan string, 2)
	release := make(chan struct{})
	for _, name := range []string{"a", "b"} {
		name := name
		issuer.On("Issue", mock.Anything, name).Run(func(mock.Arguments) {
			started <- name
			<-release
		}).Return(testBundle(name), nil)
	}

	c, _ := newTestCoalescer(t, issuer, 2, config.CacheConfig{})
	results := make(chan outcome, 2)
	c.Request(context.Background(), "a", collector(results))
	c.Request(context.Background(), "b", collector(results))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-started:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatal("issuances were serialized")
		}
	}
	assert.Len(t, seen, 2)
	assert.Equal(t, 2, c.Stats().InFlight)

	close(release)
	names := map[string]bool{}
	for i := 0; i < 2; i++ {
		o := receive(t, results)
		require.NoError(t, o.err)
		names[o.bundle.Name] = true
	}
	assert.Equal(t, map[string]bool{"a": true, "b": true}, names)
}

func TestCoalescer_SuccessTTL(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	issuer.On("Issue", mock.Anything, "ttl").Return(testBundle("ttl"), nil)

	c, _ := newTestCoalescer(t, issuer, 1, config.CacheConfig{SuccessTTL: 50 * time.Millisecond})
	results := make(chan outcome, 2)

	c.Request(context.Background(), "ttl", collector(results))
	require.NoError(t, receive(t, results).err)

	time.Sleep(100 * time.Millisecond)

	c.Request(context.Background(), "ttl", collector(results))
	require.NoError(t, receive(t, results).err)
	issuer.AssertNumberOfCalls(t, "Issue", 2)
}

func TestCoalescer_PoolClosed(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	c, pool := newTestCoalescer(t, issuer, 1, config.CacheConfig{})
	pool.Close()

	results := make(chan outcome, 1)
	c.Request(context.Background(), "late", collector(results))
	o := receive(t, results)
	assert.True(t, errors.IsCode(o.err, errors.CodePoolClosed))
	assert.Equal(t, CoalescerStats{}, c.Stats())
	issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
}

func TestCoalescer_IssuerPanicBecomesFailure(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	issuer.On("Issue", mock.Anything, "boom").Run(func(mock.Arguments) { panic("key generation exploded") })

	c, _ := newTestCoalescer(t, issuer, 1, config.CacheConfig{})
	results := make(chan outcome, 1)
	c.Request(context.Background(), "boom", collector(results))

	o := receive(t, results)
	assert.True(t, errors.IsCode(o.err, errors.CodeIssuanceFailed))
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestCoalescer_RecordsAuditEvents(t *testing.T) {
	issuer := new(mocks.MockIssuer)
	issuer.On("Issue", mock.Anything, "ok").Return(testBundle("ok"), nil)
	issuer.On("Issue", mock.Anything, "bad").Return(nil, fmt.Errorf("no entropy"))

	recorded := make(chan struct{}, 2)
	audit := new(mocks.MockAuditSink)
	audit.On("Record", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Name == "ok" && e.Success && e.Error == "" && e.ID != ""
	})).Run(func(mock.Arguments) { recorded <- struct{}{} }).Return(nil).Once()
	audit.On("Record", mock.Anything, mock.MatchedBy(func(e models.AuditEvent) bool {
		return e.Name == "bad" && !e.Success && e.Error == "no entropy"
	})).Run(func(mock.Arguments) { recorded <- struct{}{} }).Return(fmt.Errorf("broker down")).Once()

	pool := workerpool.New(1, nil, logger.NewNoopLogger())
	t.Cleanup(pool.Close)
	c := NewCoalescer(issuer, pool, inlinePoster{}, audit, nil, config.CacheConfig{}, logger.NewNoopLogger())

	results := make(chan outcome, 2)
	c.Request(context.Background(), "ok", collector(results))
	receive(t, results)
	c.Request(context.Background(), "bad", collector(results))
	receive(t, results)

	// audit runs after delivery on the same worker
	for i := 0; i < 2; i++ {
		select {
		case <-recorded:
		case <-time.After(5 * time.Second):
			t.Fatal("audit event not recorded")
		}
	}
	audit.AssertExpectations(t)
}
