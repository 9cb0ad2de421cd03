package service

import (
	"context"
	"crypto"
	"time"

	"github.com/turtacn/certforge/internal/domain/models"
)

// Issuer turns a name into a credential bundle. Calls are slow and blocking and must be safe to make
// concurrently from several workers with independent results.
// Issuer 将名称转换为凭证 bundle。调用缓慢且阻塞，必须支持多个 worker 并发调用且结果相互独立。
//
//go:generate mockery --name Issuer --output mocks --outpkg mocks
type Issuer interface {
	Issue(ctx context.Context, name string) (*models.CredentialBundle, error)
}

// IssuerFunc adapts an ordinary function to the Issuer interface.
type IssuerFunc func(ctx context.Context, name string) (*models.CredentialBundle, error)

// Issue calls f(ctx, name).
func (f IssuerFunc) Issue(ctx context.Context, name string) (*models.CredentialBundle, error) {
	return f(ctx, name)
}

// SigningKeySource loads the issuer signing key once at startup.
// SigningKeySource 在启动时加载一次签发者签名密钥。
type SigningKeySource interface {
	LoadSigningKey(ctx context.Context) (crypto.Signer, error)
}

// AuditSink receives the terminal outcome of every issuance.
// AuditSink 接收每次签发的最终结果。
//
//go:generate mockery --name AuditSink --output mocks --outpkg mocks
type AuditSink interface {
	Record(ctx context.Context, event models.AuditEvent) error
	Close() error
}

// Metrics is the set of measurements the core reports. Implementations must be safe for concurrent use.
// Metrics 是核心上报的指标集合，实现必须是并发安全的。
type Metrics interface {
	RecordRequest(result string)
	RecordIssuance(result string, duration time.Duration)
	RecordCoalesced()
	SessionOpened()
	SessionClosed()
	RecordInboxCallback(result string)
	SetPoolBacklog(n int)
	SetCacheEntries(n int)
}

// NoopMetrics discards every measurement.
type NoopMetrics struct{}

func (NoopMetrics) RecordRequest(string)                 {}
func (NoopMetrics) RecordIssuance(string, time.Duration) {}
func (NoopMetrics) RecordCoalesced()                     {}
func (NoopMetrics) SessionOpened()                       {}
func (NoopMetrics) SessionClosed()                       {}
func (NoopMetrics) RecordInboxCallback(string)           {}
func (NoopMetrics) SetPoolBacklog(int)                   {}
func (NoopMetrics) SetCacheEntries(int)                  {}
