// Package constants defines system-wide constants for the certforge credential service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Wire Protocol Constants
// ================================================================================

const (
	// NameTerminator ends the client-supplied name on the wire
	NameTerminator byte = 0x00

	// FrameHeaderSize is the size of the big-endian length prefix of a response block
	FrameHeaderSize = 4

	// DefaultMaxNameLength caps the name accumulator of a session
	DefaultMaxNameLength = 1024

	// DefaultReadBufferSize is the per-session inbound buffer size (8 KiB)
	DefaultReadBufferSize = 8 * 1024

	// MinReadBufferSize is the smallest read buffer the server accepts
	MinReadBufferSize = 64

	// DefaultAcceptBacklog is the listen(2) backlog of the reactor socket
	DefaultAcceptBacklog = 1024

	// DefaultEventBatchSize is the maximum number of readiness events handled per wait
	DefaultEventBatchSize = 256
)

// ================================================================================
// Server Defaults
// ================================================================================

const (
	// DefaultHost is the address the reactor binds to
	DefaultHost = "0.0.0.0"

	// DefaultPort is the TCP port of the credential protocol
	DefaultPort = 9999

	// DefaultAdminAddr is the listen address of the admin HTTP surface
	DefaultAdminAddr = ":9090"

	// DefaultConfigName is the base name of the optional configuration file
	DefaultConfigName = "certforge"

	// EnvPrefix is the prefix of environment variables read by the config loader
	EnvPrefix = "CERTFORGE"
)

// ================================================================================
// Issuer Defaults
// ================================================================================

const (
	// DefaultKeyBits is the RSA modulus size of issued client keys
	DefaultKeyBits = 8192

	// MinKeyBits is the smallest RSA modulus the issuer will generate
	MinKeyBits = 1024

	// DefaultSigningKeyPath is the PEM file holding the issuer signing key
	DefaultSigningKeyPath = "signer.key"

	// DefaultIssuerName is the distinguished name written into every certificate
	DefaultIssuerName = "CN=Test Issuer"

	// DefaultSignatureAlgorithm is the certificate signature algorithm
	DefaultSignatureAlgorithm = "SHA512withRSA"

	// DefaultValidDays is the certificate validity period in days
	DefaultValidDays = 3650

	// SerialNumberBits is the entropy of certificate serial numbers; 159 bits keep the
	// DER encoding within the 20 octets RFC 5280 allows
	SerialNumberBits = 159

	// PEMTypePrivateKey is the PEM block type of issued PKCS#8 private keys
	PEMTypePrivateKey = "PRIVATE KEY"

	// PEMTypeCertificate is the PEM block type of issued certificates
	PEMTypeCertificate = "CERTIFICATE"
)

// KeySource selects where the issuer signing key is loaded from
type KeySource string

const (
	// KeySourceFile loads the signing key from a PEM file
	KeySourceFile KeySource = "file"

	// KeySourceVault loads the signing key from a Vault KV v2 secret
	KeySourceVault KeySource = "vault"
)

// ================================================================================
// Client Defaults
// ================================================================================

const (
	// DefaultClientHost is the server host used by the reference client
	DefaultClientHost = "127.0.0.1"

	// DefaultConnectTimeout bounds the client dial
	DefaultConnectTimeout = 10 * time.Second

	// DefaultClientName is the name requested when none is given
	DefaultClientName = "client"

	// DefaultOutPrefix is the output path prefix for the saved key and certificate
	DefaultOutPrefix = "out"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type of context keys set by this service
type ContextKey string

const (
	// ContextKeyConnID carries the reactor connection identifier
	ContextKeyConnID ContextKey = "conn_id"

	// ContextKeyName carries the requested credential name
	ContextKeyName ContextKey = "credential_name"
)

// ================================================================================
// Metrics
// ================================================================================

const (
	// MetricsNamespace prefixes every exported metric
	MetricsNamespace = "certforge"

	// ResultSuccess labels a successful outcome
	ResultSuccess = "success"

	// ResultFailure labels an issuance or callback failure
	ResultFailure = "failure"

	// ResultProtocolError labels a rejected request
	ResultProtocolError = "protocol_error"

	// ResultAborted labels a request whose peer went away before the response
	ResultAborted = "aborted"
)
