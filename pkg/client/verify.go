package client

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"

	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

// publicKey is implemented by every key type crypto/x509 parses.
type publicKey interface {
	Equal(crypto.PublicKey) bool
}

// Verify checks that the certificate was issued for name and carries the public half
// of the returned private key. It returns the parsed certificate.
func (c *Credential) Verify(name string) (*x509.Certificate, error) {
	cert, err := c.ParseCertificate()
	if err != nil {
		return nil, err
	}
	if cert.Subject.CommonName != name {
		return nil, errors.New(errors.CodeInvalidArgument, "certificate issued for %q, want %q", cert.Subject.CommonName, name)
	}

	block, _ := pem.Decode(c.PrivateKey)
	if block == nil || block.Type != constants.PEMTypePrivateKey {
		return nil, errors.New(errors.CodeInvalidArgument, "private key is not a PEM %q block", constants.PEMTypePrivateKey)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidArgument, "parse private key")
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, errors.New(errors.CodeInvalidArgument, "private key of type %T cannot sign", key)
	}
	pub, ok := signer.Public().(publicKey)
	if !ok || !pub.Equal(cert.PublicKey) {
		return nil, errors.New(errors.CodeInvalidArgument, "private key does not match certificate")
	}
	return cert, nil
}

// VerifyIssuer checks the certificate signature against the issuer public key.
func (c *Credential) VerifyIssuer(issuer crypto.PublicKey) error {
	cert, err := c.ParseCertificate()
	if err != nil {
		return err
	}
	parent := &x509.Certificate{PublicKey: issuer}
	if err := parent.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return errors.Wrap(err, errors.CodeInvalidArgument, "certificate not signed by issuer")
	}
	return nil
}

// ParseCertificate decodes the PEM certificate.
func (c *Credential) ParseCertificate() (*x509.Certificate, error) {
	block, _ := pem.Decode(c.Certificate)
	if block == nil || block.Type != constants.PEMTypeCertificate {
		return nil, errors.New(errors.CodeInvalidArgument, "certificate is not a PEM %q block", constants.PEMTypeCertificate)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidArgument, "parse certificate")
	}
	return cert, nil
}
