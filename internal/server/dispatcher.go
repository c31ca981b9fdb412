package server

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/matst80/hellotls/internal/httpx"
	"github.com/matst80/hellotls/internal/obs"
	"github.com/matst80/hellotls/internal/ratelimit"
	"github.com/matst80/hellotls/internal/stats"
)

// AcceptPolicy decides what an accept error does to the serve loop.
type AcceptPolicy int

const (
	// AcceptFatal ends Serve with the accept error.
	AcceptFatal AcceptPolicy = iota
	// AcceptSkip reports the error and keeps accepting after a backoff delay.
	AcceptSkip
)

func (p AcceptPolicy) String() string {
	if p == AcceptSkip {
		return "skip"
	}
	return "fatal"
}

func ParseAcceptPolicy(s string) (AcceptPolicy, error) {
	switch strings.ToLower(s) {
	case "", "fatal":
		return AcceptFatal, nil
	case "skip":
		return AcceptSkip, nil
	}
	return AcceptFatal, fmt.Errorf("unknown accept policy %q (fatal|skip)", s)
}

// Dispatcher hands every accepted connection to its own goroutine.
// There is no bound on live handlers unless Limiter or the listener's
// max-conns option is set.
type Dispatcher struct {
	Handler *Handler
	Policy  AcceptPolicy
	// Limiter, when set, closes connections over the admitted rate.
	Limiter *ratelimit.RateLimiter
	Stats   stats.Store
	// NewBackoff builds the accept retry schedule used under AcceptSkip.
	NewBackoff func() *backoff.ExponentialBackOff
}

func defaultBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = time.Second
	return b
}

// Serve consumes ln until it is closed (returns nil), ctx is cancelled
// (returns ctx.Err()) or, under AcceptFatal, an accept fails.
func (d *Dispatcher) Serve(ctx context.Context, ln *Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	newBackoff := d.NewBackoff
	if newBackoff == nil {
		newBackoff = defaultBackoff
	}
	bo := newBackoff()

	for conn, err := range ln.Incoming() {
		if err != nil {
			d.record(stats.AcceptFailed)
			obs.ErrorsTotal.WithLabelValues(KindAcceptFailed).Inc()
			if d.Policy == AcceptFatal {
				obs.Error("accept.failed", obs.Fields{"err": err.Error(), "policy": d.Policy.String()})
				return err
			}
			delay := bo.NextBackOff()
			obs.Error("accept.failed", obs.Fields{"err": err.Error(), "policy": d.Policy.String(), "retry_in": delay.String()})
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		bo.Reset()
		d.dispatch(ctx, conn)
	}
	return ctx.Err()
}

func (d *Dispatcher) dispatch(ctx context.Context, conn net.Conn) {
	peer := conn.RemoteAddr().String()
	if d.Limiter != nil && !d.Limiter.AllowConnection(httpx.RemoteIPFromConn(conn)) {
		_ = conn.Close()
		d.record(stats.Rejected)
		obs.ConnectionsRejected.Inc()
		obs.Info("conn.rejected", obs.Fields{"peer": peer})
		return
	}

	id := uuid.NewString()
	d.record(stats.Accepted)
	obs.ConnectionsAccepted.Inc()
	obs.Info("conn.accepted", obs.Fields{"peer": peer, "conn_id": id})

	go d.run(ctx, id, peer, conn)
}

// run is the per-connection task boundary: nothing the handler does,
// including a panic, escapes into the accept loop.
func (d *Dispatcher) run(ctx context.Context, id, peer string, conn net.Conn) {
	d.record(stats.HandlerStarted)
	obs.ActiveHandlers.Inc()
	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			d.report(id, peer, fmt.Errorf("%w: %v", errHandlerPanic, r))
		}
		obs.ActiveHandlers.Dec()
		d.record(stats.HandlerFinished)
	}()

	if err := d.Handler.Handle(ctx, conn); err != nil {
		d.report(id, peer, err)
		return
	}
	d.record(stats.Served)
	obs.ResponsesSent.Inc()
}

func (d *Dispatcher) report(id, peer string, err error) {
	kind := Kind(err)
	switch kind {
	case KindHandshakeFailed:
		d.record(stats.HandshakeFailed)
	case KindWriteFailed:
		d.record(stats.WriteFailed)
	}
	obs.ErrorsTotal.WithLabelValues(kind).Inc()
	obs.Error("conn.error", obs.Fields{"peer": peer, "conn_id": id, "kind": kind, "err": err.Error()})
}

func (d *Dispatcher) record(e stats.Event) {
	if d.Stats != nil {
		d.Stats.Record(e)
	}
}
