package credentials

import (
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	// ErrInvalidCertificate indicates the certificate chain could not be read or held no certificates
	ErrInvalidCertificate = errors.New("invalid certificate")
	// ErrInvalidKey indicates the private key source could not be read
	ErrInvalidKey = errors.New("invalid key")
)

const (
	certificateBlock = "CERTIFICATE"
	pkcs8Block       = "PRIVATE KEY"
)

// ParseCertificateChain returns the DER bytes of every CERTIFICATE block in
// data, in file order. Non-PEM text around the blocks is ignored.
func ParseCertificateChain(data []byte) ([][]byte, error) {
	var chain [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == certificateBlock {
			chain = append(chain, block.Bytes)
		}
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: no %s blocks found", ErrInvalidCertificate, certificateBlock)
	}
	return chain, nil
}

// LoadCertificateChain reads and parses a PEM certificate chain file.
func LoadCertificateChain(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}
	chain, err := ParseCertificateChain(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return chain, nil
}

// ParsePrivateKeys returns the DER bytes of every PKCS#8 PRIVATE KEY block in
// data. Other key encodings (RSA PRIVATE KEY, EC PRIVATE KEY) are skipped.
// The result may be empty.
func ParsePrivateKeys(data []byte) [][]byte {
	var keys [][]byte
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return keys
		}
		if block.Type == pkcs8Block {
			keys = append(keys, block.Bytes)
		}
	}
}

// LoadPrivateKeys reads a PEM file and returns its PKCS#8 keys.
func LoadPrivateKeys(path string) ([][]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	return ParsePrivateKeys(data), nil
}
