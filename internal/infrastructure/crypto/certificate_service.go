package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/pkg/constants"
	"github.com/turtacn/certforge/pkg/errors"
)

// CertificateService signs subject certificates with the issuer identity.
type CertificateService struct {
	identity models.IssuerIdentity
	now      func() time.Time
}

// NewCertificateService creates a new CertificateService.
func NewCertificateService(identity models.IssuerIdentity) *CertificateService {
	return &CertificateService{identity: identity, now: time.Now}
}

// IssueCertificate returns the DER encoding of a v3 certificate for CN=subjectName
// valid from now for the configured validity period.
func (s *CertificateService) IssueCertificate(subjectName string, subjectKey crypto.PublicKey) ([]byte, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), constants.SerialNumberBits)
	limit.Sub(limit, big.NewInt(1))
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIssuanceFailed, "failed to generate serial number")
	}
	// zero is not a valid serial number
	serial.Add(serial, big.NewInt(1))

	notBefore := s.now()
	template := &x509.Certificate{
		Version:            3,
		SerialNumber:       serial,
		Subject:            pkix.Name{CommonName: subjectName},
		Issuer:             s.identity.Name,
		NotBefore:          notBefore,
		NotAfter:           notBefore.Add(s.identity.Validity),
		SignatureAlgorithm: s.identity.SignatureAlgorithm,
	}

	// x509.CreateCertificate takes the issuer name from the parent certificate.
	parent := &x509.Certificate{
		Subject:            s.identity.Name,
		SignatureAlgorithm: s.identity.SignatureAlgorithm,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, parent, subjectKey, s.identity.Signer)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeIssuanceFailed, "failed to sign certificate for %q", subjectName)
	}
	return der, nil
}
