package server

import (
	"errors"

	"github.com/matst80/hellotls/internal/acceptor"
	"github.com/matst80/hellotls/internal/credentials"
)

var (
	// ErrAddressResolution indicates the listen address did not resolve to a usable socket address
	ErrAddressResolution = errors.New("address resolution failed")
	// ErrBindFailed indicates the socket could not be bound
	ErrBindFailed = errors.New("bind failed")
	// ErrAcceptFailed indicates the listener failed to accept the next connection
	ErrAcceptFailed = errors.New("accept failed")
	// ErrWriteFailed indicates the response could not be fully written and flushed
	ErrWriteFailed = errors.New("write failed")

	errHandlerPanic = errors.New("handler panic")
)

// Error kinds used as log fields and metric labels.
const (
	KindAddressResolution     = "address_resolution"
	KindBindFailed            = "bind_failed"
	KindInvalidCertificate    = "invalid_certificate"
	KindInvalidKey            = "invalid_key"
	KindNoKeyProvided         = "no_key_provided"
	KindConfigurationRejected = "configuration_rejected"
	KindHandshakeFailed       = "handshake_failed"
	KindWriteFailed           = "write_failed"
	KindAcceptFailed          = "accept_failed"
	KindPanic                 = "panic"
	KindUnknown               = "unknown"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrAddressResolution, KindAddressResolution},
	{ErrBindFailed, KindBindFailed},
	{credentials.ErrInvalidCertificate, KindInvalidCertificate},
	{credentials.ErrInvalidKey, KindInvalidKey},
	{acceptor.ErrNoKeyProvided, KindNoKeyProvided},
	{acceptor.ErrConfigurationRejected, KindConfigurationRejected},
	{acceptor.ErrHandshakeFailed, KindHandshakeFailed},
	{ErrWriteFailed, KindWriteFailed},
	{ErrAcceptFailed, KindAcceptFailed},
	{errHandlerPanic, KindPanic},
}

// Kind classifies err into one of the Kind* labels.
func Kind(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}
