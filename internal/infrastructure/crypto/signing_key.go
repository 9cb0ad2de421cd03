package crypto

import (
	"context"
	"crypto"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/certforge/internal/domain/service"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// ParseSigningKeyPEM parses an unencrypted PEM private key. PKCS#8 "PRIVATE KEY",
// PKCS#1 "RSA PRIVATE KEY" and SEC 1 "EC PRIVATE KEY" blocks are accepted.
func ParseSigningKeyPEM(data []byte) (crypto.Signer, error) {
	if len(data) == 0 {
		return nil, errors.New(errors.CodeConfig, "empty PEM")
	}

	rsaKey, rsaErr := jwt.ParseRSAPrivateKeyFromPEM(data)
	if rsaErr == nil {
		return rsaKey, nil
	}
	ecKey, ecErr := jwt.ParseECPrivateKeyFromPEM(data)
	if ecErr == nil {
		return ecKey, nil
	}

	return nil, errors.Wrap(rsaErr, errors.CodeConfig,
		"unsupported PEM object (expected unencrypted PRIVATE KEY, RSA PRIVATE KEY or EC PRIVATE KEY)")
}

// FileKeySource loads the signing key from a PEM file on disk.
type FileKeySource struct {
	path   string
	logger logger.Logger
}

// NewFileKeySource creates a new FileKeySource.
func NewFileKeySource(path string, log logger.Logger) service.SigningKeySource {
	return &FileKeySource{path: path, logger: log.WithComponent("FileKeySource")}
}

// LoadSigningKey reads and parses the configured file.
func (s *FileKeySource) LoadSigningKey(ctx context.Context) (crypto.Signer, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to read signing key %s", s.path)
	}
	signer, err := ParseSigningKeyPEM(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to parse signing key %s", s.path)
	}
	s.logger.Info(ctx, "Signing key loaded", logger.String("path", s.path))
	return signer, nil
}
