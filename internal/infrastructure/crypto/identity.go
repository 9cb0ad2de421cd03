package crypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"strings"
	"time"

	"github.com/turtacn/certforge/internal/config"
	"github.com/turtacn/certforge/internal/domain/models"
	"github.com/turtacn/certforge/pkg/errors"
)

// signatureAlgorithms maps configured algorithm names to x509 algorithms.
var signatureAlgorithms = map[string]x509.SignatureAlgorithm{
	"SHA256withRSA":   x509.SHA256WithRSA,
	"SHA384withRSA":   x509.SHA384WithRSA,
	"SHA512withRSA":   x509.SHA512WithRSA,
	"SHA256withECDSA": x509.ECDSAWithSHA256,
	"SHA384withECDSA": x509.ECDSAWithSHA384,
	"SHA512withECDSA": x509.ECDSAWithSHA512,
}

// NewIssuerIdentity builds the issuer identity from the loaded signer and the issuer config.
// The signer's key type must match the signature algorithm family.
func NewIssuerIdentity(signer crypto.Signer, cfg config.IssuerConfig) (models.IssuerIdentity, error) {
	alg, ok := signatureAlgorithms[cfg.SignatureAlgorithm]
	if !ok {
		return models.IssuerIdentity{}, errors.New(errors.CodeConfig, "unsupported signature algorithm %q", cfg.SignatureAlgorithm)
	}

	switch signer.(type) {
	case *rsa.PrivateKey:
		if !strings.HasSuffix(cfg.SignatureAlgorithm, "withRSA") {
			return models.IssuerIdentity{}, errors.New(errors.CodeConfig, "RSA signing key cannot sign with %s", cfg.SignatureAlgorithm)
		}
	case *ecdsa.PrivateKey:
		if !strings.HasSuffix(cfg.SignatureAlgorithm, "withECDSA") {
			return models.IssuerIdentity{}, errors.New(errors.CodeConfig, "EC signing key cannot sign with %s", cfg.SignatureAlgorithm)
		}
	default:
		return models.IssuerIdentity{}, errors.New(errors.CodeConfig, "unsupported signing key type %T", signer)
	}

	name, err := ParseDistinguishedName(cfg.IssuerName)
	if err != nil {
		return models.IssuerIdentity{}, err
	}

	return models.IssuerIdentity{
		Signer:             signer,
		Name:               name,
		SignatureAlgorithm: alg,
		Validity:           time.Duration(cfg.ValidDays) * 24 * time.Hour,
	}, nil
}

// ParseDistinguishedName parses a comma separated "CN=..,O=..,C=.." string.
// Escaped commas ("\,") are kept inside values.
func ParseDistinguishedName(dn string) (pkix.Name, error) {
	var name pkix.Name
	if strings.TrimSpace(dn) == "" {
		return name, errors.New(errors.CodeConfig, "issuer name is empty")
	}

	for _, rdn := range splitUnescaped(dn, ',') {
		key, value, found := strings.Cut(rdn, "=")
		if !found {
			return name, errors.New(errors.CodeConfig, "malformed issuer name component %q", rdn)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ReplaceAll(strings.TrimSpace(value), `\,`, ",")

		switch key {
		case "CN":
			name.CommonName = value
		case "O":
			name.Organization = append(name.Organization, value)
		case "OU":
			name.OrganizationalUnit = append(name.OrganizationalUnit, value)
		case "C":
			name.Country = append(name.Country, value)
		case "L":
			name.Locality = append(name.Locality, value)
		case "ST":
			name.Province = append(name.Province, value)
		case "STREET":
			name.StreetAddress = append(name.StreetAddress, value)
		case "SERIALNUMBER":
			name.SerialNumber = value
		default:
			return name, errors.New(errors.CodeConfig, "unsupported issuer name attribute %q", key)
		}
	}
	return name, nil
}

func splitUnescaped(s string, sep byte) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' {
			i++
			continue
		}
		if s[i] == sep {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	return append(parts, s[start:])
}
