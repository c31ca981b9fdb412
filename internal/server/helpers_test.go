package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/matst80/hellotls/internal/acceptor"
	"github.com/matst80/hellotls/internal/credentials"
	"github.com/matst80/hellotls/internal/httpx"
	"github.com/matst80/hellotls/internal/stats"
)

var hello = httpx.HelloWorld().Bytes()

func newTestHandler(t *testing.T, handshakeTimeout time.Duration) (*Handler, *x509.CertPool) {
	t.Helper()
	certPEM, keyPEM, err := credentials.GenerateSelfSigned([]string{"localhost", "127.0.0.1"}, time.Hour)
	require.NoError(t, err)
	chain, err := credentials.ParseCertificateChain(certPEM)
	require.NoError(t, err)
	cfg, err := acceptor.NewServerConfig(chain, credentials.ParsePrivateKeys(keyPEM))
	require.NoError(t, err)

	pool := x509.NewCertPool()
	require.True(t, pool.AppendCertsFromPEM(certPEM))

	return &Handler{
		Acceptor:     acceptor.New(cfg, acceptor.WithHandshakeTimeout(handshakeTimeout)),
		Payload:      hello,
		WriteTimeout: 5 * time.Second,
	}, pool
}

type running struct {
	addr   string
	ln     *Listener
	cancel context.CancelFunc
	done   chan error
}

func startDispatcher(t *testing.T, d *Dispatcher) *running {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Bind(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	r := &running{addr: ln.Addr().String(), ln: ln, cancel: cancel, done: make(chan error, 1)}
	go func() { r.done <- d.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		<-r.done
	})
	return r
}

func fetch(addr string, pool *x509.CertPool) ([]byte, error) {
	dialer := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{RootCAs: pool, ServerName: "localhost"})
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	return io.ReadAll(conn)
}

func snapshot(t *testing.T, s stats.Store) stats.Snapshot {
	t.Helper()
	snap, err := s.Snapshot(context.Background())
	require.NoError(t, err)
	return snap
}

// scriptedListener returns queued errors and conns until closed.
type scriptedListener struct {
	errs   chan error
	conns  chan net.Conn
	closed chan struct{}
	once   sync.Once
}

func newScriptedListener() *scriptedListener {
	return &scriptedListener{
		errs:   make(chan error, 16),
		conns:  make(chan net.Conn, 16),
		closed: make(chan struct{}),
	}
}

func (s *scriptedListener) Accept() (net.Conn, error) {
	select {
	case <-s.closed:
		return nil, net.ErrClosed
	default:
	}
	select {
	case err := <-s.errs:
		return nil, err
	case c := <-s.conns:
		return c, nil
	case <-s.closed:
		return nil, net.ErrClosed
	}
}

func (s *scriptedListener) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)}
}
