package acceptor

import (
	"bytes"
	"crypto/tls"
	"encoding/pem"
	"errors"
	"fmt"
)

var (
	// ErrNoKeyProvided indicates the credential source returned no private key
	ErrNoKeyProvided = errors.New("no private key provided")
	// ErrConfigurationRejected indicates the TLS engine refused the certificate/key pair
	ErrConfigurationRejected = errors.New("tls configuration rejected")
)

// ServerConfig is the immutable server side TLS configuration: one
// certificate chain, one private key and no client authentication.
type ServerConfig struct {
	tls     *tls.Config
	ignored int
}

// NewServerConfig builds the configuration from DER certificates (leaf
// first) and DER PKCS#8 keys. Only keys[0] is used.
func NewServerConfig(chain [][]byte, keys [][]byte) (*ServerConfig, error) {
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty certificate chain", ErrConfigurationRejected)
	}
	if len(keys) == 0 {
		return nil, ErrNoKeyProvided
	}

	// X509KeyPair parses the key and checks it against the leaf public key.
	var certPEM bytes.Buffer
	for _, der := range chain {
		if err := pem.Encode(&certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
		}
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keys[0]})

	cert, err := tls.X509KeyPair(certPEM.Bytes(), keyPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigurationRejected, err)
	}

	return &ServerConfig{
		tls: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.NoClientCert,
			MinVersion:   tls.VersionTLS12,
		},
		ignored: len(keys) - 1,
	}, nil
}

// Ignored reports how many keys after the first were discarded.
func (c *ServerConfig) Ignored() int { return c.ignored }

// Leaf returns the DER bytes of the served leaf certificate.
func (c *ServerConfig) Leaf() []byte {
	return bytes.Clone(c.tls.Certificates[0].Certificate[0])
}
