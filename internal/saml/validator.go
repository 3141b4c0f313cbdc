package saml

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/theblackhat55/aria51a-sub006/internal/model"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// FederatedIdentity is the normalized output of assertion validation: what
// the IdP asserted about the user, independent of the XML it arrived in.
type FederatedIdentity struct {
	SubjectID  string
	Email      string
	FirstName  string
	LastName   string
	Role       string
	Department string
	Groups     []string
	// Attributes is the raw attribute bag, keyed by attribute name, for the
	// configurable attribute mapping to draw from.
	Attributes map[string][]string
}

// AssertionValidator validates a raw SAML response and extracts the asserted
// identity. XML parsing and signature verification are fully delegated to the
// underlying library; callers treat this as a trusted black box.
type AssertionValidator interface {
	// ValidateAndParse takes the base64-encoded SAMLResponse as delivered to
	// the ACS endpoint.
	ValidateAndParse(rawResponse string) (*FederatedIdentity, error)
	// LoginURL builds the SP-initiated redirect to the IdP.
	LoginURL(relayState string) (string, error)
	// Metadata renders the SP metadata document.
	Metadata() ([]byte, error)
}

// ErrAssertionRejected wraps every validation failure from the library.
var ErrAssertionRejected = errors.New("saml assertion rejected")

type gosamlValidator struct {
	sp *saml2.SAMLServiceProvider
}

// NewValidator builds an AssertionValidator from the stored configuration.
func NewValidator(cfg *model.SAMLConfig) (AssertionValidator, error) {
	certStore := &dsig.MemoryX509CertificateStore{}
	if cfg.IdPCertificate != "" {
		cert, err := parseCertificate(cfg.IdPCertificate)
		if err != nil {
			return nil, fmt.Errorf("invalid IdP certificate: %w", err)
		}
		certStore.Roots = append(certStore.Roots, cert)
	} else if cfg.RequireSignedAssertions {
		return nil, errors.New("signed assertions required but no IdP certificate configured")
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      cfg.IdPSSOURL,
		IdentityProviderIssuer:      cfg.IdPEntityID,
		ServiceProviderIssuer:       cfg.SPEntityID,
		AssertionConsumerServiceURL: cfg.ACSURL,
		AudienceURI:                 cfg.SPEntityID,
		IDPCertificateStore:         certStore,
		SkipSignatureValidation:     !cfg.RequireSignedAssertions,
		SignAuthnRequests:           false,
	}

	return &gosamlValidator{sp: sp}, nil
}

func (v *gosamlValidator) ValidateAndParse(rawResponse string) (*FederatedIdentity, error) {
	info, err := v.sp.RetrieveAssertionInfo(rawResponse)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAssertionRejected, err)
	}
	if info.WarningInfo.InvalidTime {
		return nil, fmt.Errorf("%w: assertion outside its validity window", ErrAssertionRejected)
	}
	if info.WarningInfo.NotInAudience {
		return nil, fmt.Errorf("%w: assertion not addressed to this service provider", ErrAssertionRejected)
	}

	attrs := make(map[string][]string)
	for name, attr := range info.Values {
		values := make([]string, 0, len(attr.Values))
		for _, av := range attr.Values {
			values = append(values, av.Value)
		}
		attrs[name] = values
	}

	identity := &FederatedIdentity{
		SubjectID:  info.NameID,
		Email:      firstAttr(attrs, "email", "mail", "urn:oid:0.9.2342.19200300.100.1.3", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"),
		FirstName:  firstAttr(attrs, "givenName", "firstName", "urn:oid:2.5.4.42", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/givenname"),
		LastName:   firstAttr(attrs, "sn", "surname", "lastName", "urn:oid:2.5.4.4", "http://schemas.xmlsoap.org/ws/2005/05/identity/claims/surname"),
		Role:       firstAttr(attrs, "role", "http://schemas.microsoft.com/ws/2008/06/identity/claims/role"),
		Department: firstAttr(attrs, "department", "urn:oid:2.5.4.11"),
		Groups:     allAttrs(attrs, "groups", "memberOf", "http://schemas.xmlsoap.org/claims/Group", "http://schemas.microsoft.com/ws/2008/06/identity/claims/groups"),
		Attributes: attrs,
	}

	// Fall back to the NameID when the IdP sends an email-shaped subject and
	// no explicit email attribute.
	if identity.Email == "" && strings.Contains(info.NameID, "@") {
		identity.Email = info.NameID
	}

	return identity, nil
}

func (v *gosamlValidator) LoginURL(relayState string) (string, error) {
	return v.sp.BuildAuthURL(relayState)
}

func (v *gosamlValidator) Metadata() ([]byte, error) {
	meta, err := v.sp.Metadata()
	if err != nil {
		return nil, err
	}
	return xml.MarshalIndent(meta, "", "  ")
}

// parseCertificate accepts PEM or raw base64 DER certificate material.
func parseCertificate(raw string) (*x509.Certificate, error) {
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}

	cleaned := strings.Join(strings.Fields(raw), "")
	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("certificate is neither PEM nor base64 DER: %w", err)
	}
	return x509.ParseCertificate(der)
}

func firstAttr(attrs map[string][]string, names ...string) string {
	for _, name := range names {
		if values, ok := attrs[name]; ok {
			for _, v := range values {
				if v != "" {
					return v
				}
			}
		}
	}
	return ""
}

func allAttrs(attrs map[string][]string, names ...string) []string {
	var out []string
	for _, name := range names {
		for _, v := range attrs[name] {
			if v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
