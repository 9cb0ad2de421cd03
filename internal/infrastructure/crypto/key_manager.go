// Package crypto implements the credential issuer: per-name RSA key generation,
// X.509 certificate signing with the configured issuer identity, and PEM encoding.
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// KeyManager issues a fresh RSA key pair and a matching certificate per name.
// It holds no per-name state, so concurrent Issue calls are independent.
type KeyManager struct {
	certs   *CertificateService
	keyBits int
	logger  logger.Logger
	tracer  trace.Tracer
}

// NewKeyManager creates a new key manager instance.
//
// Parameters:
//   - certs: certificate service holding the issuer identity
//   - keyBits: RSA modulus size of generated keys
//   - log: Logger instance
//
// Returns:
//   - *KeyManager: Initialized key manager
//   - error: Initialization error if any
func NewKeyManager(certs *CertificateService, keyBits int, log logger.Logger) (*KeyManager, error) {
	if certs == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "certificate service is required")
	}
	if keyBits < constants.MinKeyBits {
		return nil, errors.New(errors.CodeInvalidArgument, "key size %d is below the minimum of %d", keyBits, constants.MinKeyBits)
	}

	km := &KeyManager{
		certs:   certs,
		keyBits: keyBits,
		logger:  log.WithComponent("issuer"),
		tracer:  otel.Tracer("certforge/issuer"),
	}

	log.Info(context.Background(), "Key manager initialized", logger.Int("key_bits", keyBits))
	return km, nil
}

// Issue generates a key pair for name and signs a certificate for it.
func (km *KeyManager) Issue(ctx context.Context, name string) (*models.CredentialBundle, error) {
	ctx, span := km.tracer.Start(ctx, "credential.issue", trace.WithAttributes(
		attribute.String("credential.name", name),
		attribute.Int("credential.key_bits", km.keyBits),
	))
	defer span.End()

	start := time.Now()
	bundle, err := km.issue(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		km.logger.Error(ctx, "Credential issuance failed", err, logger.String("name", name))
		return nil, err
	}

	km.logger.Info(ctx, "Credential issued",
		logger.String("name", name),
		logger.Int("key_pem_bytes", len(bundle.PrivateKeyPEM)),
		logger.Int("cert_pem_bytes", len(bundle.CertificatePEM)),
		logger.Duration("duration", time.Since(start)),
	)
	return bundle, nil
}

func (km *KeyManager) issue(name string) (*models.CredentialBundle, error) {
	if name == "" {
		return nil, errors.ErrEmptyName
	}

	privateKey, err := rsa.GenerateKey(rand.Reader, km.keyBits)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIssuanceFailed, "failed to generate RSA key")
	}

	certDER, err := km.certs.IssueCertificate(name, &privateKey.PublicKey)
	if err != nil {
		return nil, err
	}

	pkcs8, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIssuanceFailed, "failed to marshal private key")
	}

	return &models.CredentialBundle{
		Name:           name,
		PrivateKeyPEM:  pem.EncodeToMemory(&pem.Block{Type: constants.PEMTypePrivateKey, Bytes: pkcs8}),
		CertificatePEM: pem.EncodeToMemory(&pem.Block{Type: constants.PEMTypeCertificate, Bytes: certDER}),
		IssuedAt:       time.Now(),
	}, nil
}

var _ service.Issuer = (*KeyManager)(nil)
