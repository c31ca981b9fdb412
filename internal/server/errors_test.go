package server

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matst80/hellotls/internal/acceptor"
	"github.com/matst80/hellotls/internal/credentials"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: no port", ErrAddressResolution), KindAddressResolution},
		{fmt.Errorf("%w: in use", ErrBindFailed), KindBindFailed},
		{fmt.Errorf("load: %w", credentials.ErrInvalidCertificate), KindInvalidCertificate},
		{credentials.ErrInvalidKey, KindInvalidKey},
		{acceptor.ErrNoKeyProvided, KindNoKeyProvided},
		{acceptor.ErrConfigurationRejected, KindConfigurationRejected},
		{fmt.Errorf("%w: eof", acceptor.ErrHandshakeFailed), KindHandshakeFailed},
		{fmt.Errorf("%w: reset", ErrWriteFailed), KindWriteFailed},
		{fmt.Errorf("%w: emfile", ErrAcceptFailed), KindAcceptFailed},
		{fmt.Errorf("%w: boom", errHandlerPanic), KindPanic},
		{errors.New("something else"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			require.Equal(t, tt.want, Kind(tt.err))
		})
	}
}
