package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net"

	"golang.org/x/net/netutil"
)

// Listener yields inbound TCP connections.
type Listener struct {
	ln net.Listener
}

type listenOptions struct {
	maxConns int
}

type ListenOption func(*listenOptions)

// WithMaxConns caps the number of simultaneously open accepted connections.
// Excess connections wait in the kernel accept queue. Zero means unbounded.
func WithMaxConns(n int) ListenOption {
	return func(o *listenOptions) { o.maxConns = n }
}

// Bind resolves address to a single TCP address and listens on it.
func Bind(ctx context.Context, address string, opts ...ListenOption) (*Listener, error) {
	addr, err := resolve(ctx, address)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrBindFailed, addr, err)
	}
	return Wrap(ln, opts...), nil
}

// Wrap adopts an already bound listener.
func Wrap(ln net.Listener, opts ...ListenOption) *Listener {
	var o listenOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxConns > 0 {
		ln = netutil.LimitListener(ln, o.maxConns)
	}
	return &Listener{ln: ln}
}

// resolve picks the first address the host resolves to.
func resolve(ctx context.Context, address string) (*net.TCPAddr, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	portNum, err := net.DefaultResolver.LookupPort(ctx, "tcp", port)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	if host == "" {
		return &net.TCPAddr{Port: portNum}, nil
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAddressResolution, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s resolved to no addresses", ErrAddressResolution, host)
	}
	return &net.TCPAddr{IP: ips[0].IP, Port: portNum, Zone: ips[0].Zone}, nil
}

func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

func (l *Listener) Close() error { return l.ln.Close() }

// Incoming is the infinite sequence of accepted connections. Accept errors
// are yielded wrapped in ErrAcceptFailed and the sequence goes on; it only
// ends once the listener is closed or the consumer stops iterating. Every
// yielded conn is owned by the consumer.
func (l *Listener) Incoming() iter.Seq2[net.Conn, error] {
	return func(yield func(net.Conn, error) bool) {
		for {
			conn, err := l.ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return
				}
				if !yield(nil, fmt.Errorf("%w: %w", ErrAcceptFailed, err)) {
					return
				}
				continue
			}
			if !yield(conn, nil) {
				return
			}
		}
	}
}
