package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matst80/hellotls/internal/ratelimit"
	"github.com/matst80/hellotls/internal/stats"
)

func fastBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	b.MaxInterval = time.Millisecond
	return b
}

func TestParseAcceptPolicy(t *testing.T) {
	p, err := ParseAcceptPolicy("")
	require.NoError(t, err)
	require.Equal(t, AcceptFatal, p)

	p, err = ParseAcceptPolicy("SKIP")
	require.NoError(t, err)
	require.Equal(t, AcceptSkip, p)
	require.Equal(t, "skip", p.String())

	_, err = ParseAcceptPolicy("retry")
	require.Error(t, err)
}

func TestServeConcurrentClients(t *testing.T) {
	h, pool := newTestHandler(t, 2*time.Second)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	const clients = 20
	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := fetch(r.addr, pool)
			if err != nil {
				errs <- err
				return
			}
			if string(got) != string(hello) {
				errs <- errors.New("unexpected response: " + string(got))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.Served == clients && s.Active == 0
	}, 5*time.Second, 10*time.Millisecond)
	require.EqualValues(t, clients, snapshot(t, store).Accepted)
}

func TestServeStalledPeerDoesNotBlockOthers(t *testing.T) {
	h, pool := newTestHandler(t, 10*time.Second)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	// connects and never sends a ClientHello
	silent, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	defer silent.Close()

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := fetch(r.addr, pool)
			assert.NoError(t, err)
			assert.Equal(t, hello, got)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.Served == 5 && s.Active == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeHandshakeFailureIsIsolated(t *testing.T) {
	h, pool := newTestHandler(t, 2*time.Second)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	bad, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	_, err = bad.Write([]byte("definitely not tls\r\n\r\n"))
	require.NoError(t, err)
	_ = bad.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _ = io.ReadAll(bad)
	_ = bad.Close()

	got, err := fetch(r.addr, pool)
	require.NoError(t, err)
	require.Equal(t, hello, got)

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.HandshakeFailed == 1 && s.Served == 1 && s.Active == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeWriteFailureIsIsolated(t *testing.T) {
	h, pool := newTestHandler(t, 2*time.Second)
	h.Payload = make([]byte, 32<<20)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	raw, err := net.Dial("tcp", r.addr)
	require.NoError(t, err)
	client := tls.Client(raw, &tls.Config{RootCAs: pool, ServerName: "localhost"})
	_ = client.SetDeadline(time.Now().Add(5 * time.Second))
	require.NoError(t, client.Handshake())
	_, err = io.ReadFull(client, make([]byte, 1))
	require.NoError(t, err)
	require.NoError(t, raw.(*net.TCPConn).SetLinger(0))
	require.NoError(t, raw.Close())

	require.Eventually(t, func() bool {
		return snapshot(t, store).WriteFailed == 1
	}, 5*time.Second, 10*time.Millisecond)

	// the aborted handler has returned, so no goroutine reads Payload now
	h.Payload = hello
	got, err := fetch(r.addr, pool)
	require.NoError(t, err)
	require.Equal(t, hello, got)

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.WriteFailed == 1 && s.Served == 1 && s.Active == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeUntrustedClientFailsHandshake(t *testing.T) {
	h, _ := newTestHandler(t, 2*time.Second)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	_, err := tls.Dial("tcp", r.addr, &tls.Config{ServerName: "localhost"})
	require.Error(t, err)

	require.Eventually(t, func() bool {
		return snapshot(t, store).HandshakeFailed == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestServeReturnsOnCancel(t *testing.T) {
	h, _ := newTestHandler(t, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	ln, err := Bind(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- (&Dispatcher{Handler: h}).Serve(ctx, ln) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServeReturnsNilWhenListenerClosed(t *testing.T) {
	h, _ := newTestHandler(t, time.Second)
	sl := newScriptedListener()
	done := make(chan error, 1)
	go func() { done <- (&Dispatcher{Handler: h}).Serve(context.Background(), Wrap(sl)) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, sl.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after listener close")
	}
}

func TestServeAcceptErrorFatal(t *testing.T) {
	h, _ := newTestHandler(t, time.Second)
	store := stats.NewMemoryStore()
	sl := newScriptedListener()
	boom := errors.New("too many open files")
	sl.errs <- boom

	err := (&Dispatcher{Handler: h, Stats: store}).Serve(context.Background(), Wrap(sl))
	require.ErrorIs(t, err, ErrAcceptFailed)
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 1, snapshot(t, store).AcceptFailed)
}

func TestServeAcceptErrorSkip(t *testing.T) {
	h, pool := newTestHandler(t, 2*time.Second)
	store := stats.NewMemoryStore()

	// real socket behind a listener that fails a few times first
	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fl := &flakyListener{Listener: inner, failures: 3}

	d := &Dispatcher{Handler: h, Policy: AcceptSkip, Stats: store, NewBackoff: fastBackoff}
	done := make(chan error, 1)
	go func() { done <- d.Serve(context.Background(), Wrap(fl)) }()

	got, err := fetch(inner.Addr().String(), pool)
	require.NoError(t, err)
	require.Equal(t, hello, got)

	s := snapshot(t, store)
	require.EqualValues(t, 3, s.AcceptFailed)

	require.NoError(t, inner.Close())
	require.NoError(t, <-done)
}

type flakyListener struct {
	net.Listener
	mu       sync.Mutex
	failures int
}

func (f *flakyListener) Accept() (net.Conn, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return nil, errors.New("transient accept failure")
	}
	f.mu.Unlock()
	return f.Listener.Accept()
}

func TestServeRateLimitRejects(t *testing.T) {
	h, pool := newTestHandler(t, 2*time.Second)
	store := stats.NewMemoryStore()
	r := startDispatcher(t, &Dispatcher{
		Handler: h,
		Stats:   store,
		Limiter: ratelimit.NewRateLimiter(0, 1, 1),
	})

	got, err := fetch(r.addr, pool)
	require.NoError(t, err)
	require.Equal(t, hello, got)

	// same peer, bucket is empty
	_, err = fetch(r.addr, pool)
	require.Error(t, err)

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.Rejected == 1 && s.Served == 1
	}, 5*time.Second, 10*time.Millisecond)
}

type panicHandshaker struct{}

func (panicHandshaker) Accept(context.Context, net.Conn) (*tls.Conn, error) {
	panic("handshake exploded")
}

func TestServeRecoversHandlerPanic(t *testing.T) {
	store := stats.NewMemoryStore()
	h := &Handler{Acceptor: panicHandshaker{}, Payload: hello}
	r := startDispatcher(t, &Dispatcher{Handler: h, Stats: store})

	for range 2 {
		c, err := net.Dial("tcp", r.addr)
		require.NoError(t, err)
		_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
		got, _ := io.ReadAll(c)
		require.Empty(t, got)
		_ = c.Close()
	}

	require.Eventually(t, func() bool {
		s := snapshot(t, store)
		return s.Accepted == 2 && s.Active == 0
	}, 5*time.Second, 10*time.Millisecond)
}
