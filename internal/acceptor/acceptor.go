package acceptor

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/matst80/hellotls/internal/obs"
)

// ErrHandshakeFailed wraps every server handshake failure.
var ErrHandshakeFailed = errors.New("tls handshake failed")

// Acceptor performs server handshakes with a shared ServerConfig. A single
// *Acceptor is safe for concurrent use by any number of connections.
type Acceptor struct {
	cfg              *tls.Config
	handshakeTimeout time.Duration
}

type Option func(*Acceptor)

// WithHandshakeTimeout bounds each handshake. Zero means no limit.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(a *Acceptor) { a.handshakeTimeout = d }
}

func New(cfg *ServerConfig, opts ...Option) *Acceptor {
	a := &Acceptor{cfg: cfg.tls}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Accept runs the server handshake on conn. It blocks only the calling
// goroutine. The caller keeps ownership of conn and must close it.
func (a *Acceptor) Accept(ctx context.Context, conn net.Conn) (*tls.Conn, error) {
	if a.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.handshakeTimeout)
		defer cancel()
	}

	start := time.Now()
	tlsConn := tls.Server(conn, a.cfg)
	err := tlsConn.HandshakeContext(ctx)
	obs.HandshakeDurationSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}
	return tlsConn, nil
}
