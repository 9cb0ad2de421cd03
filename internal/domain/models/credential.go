package models

import (
	"crypto"
	"crypto/x509"
	"crypto/x509/pkix"
	"time"
)

// CredentialBundle is the private key and certificate issued for one name.
// Both fields are already in their transferable encoding (PEM) and must not be mutated after issuance;
// a single bundle is shared by every waiter of the same name.
// CredentialBundle 是为一个名称签发的私钥和证书。
// 两个字段均已是可传输编码 (PEM)，签发后不可修改；同名的所有等待者共享同一个 bundle。
type CredentialBundle struct {
	// Name is the client-supplied name the bundle was issued for.
	// Name 是客户端提供的、为其签发 bundle 的名称。
	Name string
	// PrivateKeyPEM is the PKCS#8 private key in PEM form.
	// PrivateKeyPEM 是 PEM 格式的 PKCS#8 私钥。
	PrivateKeyPEM []byte
	// CertificatePEM is the signed X.509 certificate in PEM form.
	// CertificatePEM 是 PEM 格式的已签名 X.509 证书。
	CertificatePEM []byte
	// IssuedAt is when the issuer finished producing the bundle.
	// IssuedAt 是签发者完成生成 bundle 的时间。
	IssuedAt time.Time
}

// IssuerIdentity is the signing identity configured once at startup and passed by value into the issuer.
// IssuerIdentity 是启动时配置一次、按值传入签发者的签名身份。
type IssuerIdentity struct {
	// Signer is the issuer private key.
	// Signer 是签发者私钥。
	Signer crypto.Signer
	// Name is the issuer distinguished name written into every certificate.
	// Name 是写入每个证书的签发者可分辨名称。
	Name pkix.Name
	// SignatureAlgorithm is the algorithm used to sign certificates.
	// SignatureAlgorithm 是用于签署证书的算法。
	SignatureAlgorithm x509.SignatureAlgorithm
	// Validity is the lifetime of issued certificates.
	// Validity 是签发证书的有效期。
	Validity time.Duration
}
