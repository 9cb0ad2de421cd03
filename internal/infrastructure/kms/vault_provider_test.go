// Package kms_test provides tests for the kms package.
package kms_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/infrastructure/kms"
	"github.com/turtacn/certforge/pkg/errors"
	"github.com/turtacn/certforge/pkg/logger"
)

func vaultConfig(addr string) config.VaultConfig {
	return config.VaultConfig{
		Address:   addr,
		Token:     "test-token",
		MountPath: "secret",
		KeyPath:   "certforge/signer",
		KeyField:  "private_key",
	}
}

func kvResponse(data map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"data": map[string]interface{}{
			"data": data,
			"metadata": map[string]interface{}{
				"version":       1,
				"created_time":  "2024-01-01T00:00:00Z",
				"deletion_time": "",
				"destroyed":     false,
			},
		},
	}
}

func TestVaultProvider_LoadSigningKey(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pkcs8, err := x509.MarshalPKCS8PrivateKey(privateKey)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/secret/data/certforge/signer", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-token", r.Header.Get("X-Vault-Token"))
		_ = json.NewEncoder(w).Encode(kvResponse(map[string]interface{}{"private_key": string(keyPEM)}))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	cfg := vaultConfig(ts.URL)
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)
	provider, err := kms.NewVaultProvider(cfg, client, logger.NewNoopLogger())
	require.NoError(t, err)

	signer, err := provider.LoadSigningKey(context.Background())
	require.NoError(t, err)
	loaded, ok := signer.(*rsa.PrivateKey)
	require.True(t, ok)
	assert.True(t, loaded.Equal(privateKey))
}

func TestVaultProvider_MissingField(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(kvResponse(map[string]interface{}{"other": "value"}))
	}))
	defer ts.Close()

	cfg := vaultConfig(ts.URL)
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)
	provider, err := kms.NewVaultProvider(cfg, client, logger.NewNoopLogger())
	require.NoError(t, err)

	_, err = provider.LoadSigningKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestVaultProvider_SecretNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	cfg := vaultConfig(ts.URL)
	client, err := kms.NewVaultClient(cfg)
	require.NoError(t, err)
	provider, err := kms.NewVaultProvider(cfg, client, logger.NewNoopLogger())
	require.NoError(t, err)

	_, err = provider.LoadSigningKey(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeConfig))
}

func TestNewVaultProvider_RequiresClient(t *testing.T) {
	_, err := kms.NewVaultProvider(vaultConfig("http://127.0.0.1:1"), nil, logger.NewNoopLogger())
	assert.True(t, errors.IsCode(err, errors.CodeInvalidArgument))
}
