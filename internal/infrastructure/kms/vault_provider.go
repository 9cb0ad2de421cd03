// Package kms loads the issuer signing key from HashiCorp Vault.
package kms

import (
	"context"
	"crypto"

	vault "github.com/hashicorp/vault/api"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/service"
	certcrypto "github.com/turtacn/certforge/internal/infrastructure/crypto"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

// VaultProvider is a Vault-backed implementation of the SigningKeySource interface.
// The key is read from a KV v2 secret as a PEM string.
type VaultProvider struct {
	vaultClient *vault.Client
	logger      logger.Logger
	config      config.VaultConfig
}

// NewVaultClient creates a Vault API client for cfg.
func NewVaultClient(cfg config.VaultConfig) (*vault.Client, error) {
	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "failed to create vault client")
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}
	return client, nil
}

// NewVaultProvider creates a new VaultProvider.
func NewVaultProvider(cfg config.VaultConfig, vaultClient *vault.Client, logger logger.Logger) (service.SigningKeySource, error) {
	if vaultClient == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "vault client is required")
	}
	return &VaultProvider{
		vaultClient: vaultClient,
		logger:      logger.WithComponent("VaultProvider"),
		config:      cfg,
	}, nil
}

// LoadSigningKey reads <mount>/data/<key_path> and parses the PEM stored under key_field.
func (p *VaultProvider) LoadSigningKey(ctx context.Context) (crypto.Signer, error) {
	secret, err := p.vaultClient.KVv2(p.config.MountPath).Get(ctx, p.config.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfig, "could not retrieve signing key from vault")
	}
	if secret == nil || secret.Data == nil {
		return nil, errors.New(errors.CodeConfig, "signing key not found in vault at %s", p.config.KeyPath)
	}

	pemData, ok := secret.Data[p.config.KeyField].(string)
	if !ok {
		return nil, errors.New(errors.CodeConfig, "%s not found or not a string in vault secret", p.config.KeyField)
	}

	signer, err := certcrypto.ParseSigningKeyPEM([]byte(pemData))
	if err != nil {
		return nil, err
	}

	p.logger.Info(ctx, "Signing key loaded from vault",
		logger.String("mount", p.config.MountPath),
		logger.String("path", p.config.KeyPath),
	)
	return signer, nil
}
