package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/matst80/hellotls/internal/acceptor"
	"github.com/matst80/hellotls/internal/obs"
)

// State is a connection handler lifecycle step.
type State int

const (
	Accepted State = iota
	Handshaking
	HandshakeComplete
	ResponseSent
	Closed
	Errored
)

func (s State) String() string {
	switch s {
	case Accepted:
		return "accepted"
	case Handshaking:
		return "handshaking"
	case HandshakeComplete:
		return "handshake_complete"
	case ResponseSent:
		return "response_sent"
	case Closed:
		return "closed"
	case Errored:
		return "errored"
	}
	return "unknown"
}

// Handshaker turns a raw connection into a TLS session.
type Handshaker interface {
	Accept(ctx context.Context, conn net.Conn) (*tls.Conn, error)
}

// Handler runs one connection: handshake, write Payload, close.
// A Handler is shared by all connections and never mutated after setup.
type Handler struct {
	Acceptor Handshaker
	Payload  []byte
	// WriteTimeout bounds writing and flushing the payload. Zero means no limit.
	WriteTimeout time.Duration
}

type lifecycle struct {
	peer  string
	state State
}

func (l *lifecycle) to(next State) {
	obs.Debug("conn.state", obs.Fields{"peer": l.peer, "from": l.state.String(), "to": next.String()})
	l.state = next
}

// Handle makes exactly one handshake attempt and, if it succeeds, exactly
// one write attempt. conn is closed on every return path.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	lc := &lifecycle{peer: conn.RemoteAddr().String(), state: Accepted}

	lc.to(Handshaking)
	tlsConn, err := h.Acceptor.Accept(ctx, conn)
	if err != nil {
		lc.to(Errored)
		if !errors.Is(err, acceptor.ErrHandshakeFailed) {
			err = fmt.Errorf("%w: %w", acceptor.ErrHandshakeFailed, err)
		}
		return err
	}
	lc.to(HandshakeComplete)

	if err := h.write(tlsConn); err != nil {
		lc.to(Errored)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	lc.to(ResponseSent)

	// close_notify; the raw conn is closed by the deferred Close either way.
	_ = tlsConn.Close()
	lc.to(Closed)
	return nil
}

func (h *Handler) write(tlsConn *tls.Conn) error {
	if h.WriteTimeout > 0 {
		if err := tlsConn.SetWriteDeadline(time.Now().Add(h.WriteTimeout)); err != nil {
			return err
		}
	}
	bw := bufio.NewWriter(tlsConn)
	if _, err := bw.Write(h.Payload); err != nil {
		return err
	}
	return bw.Flush()
}
