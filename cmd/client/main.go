package main

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/cenkalti/backoff/v5"

	"github.com/matst80/hellotls/internal/httpx"
	"github.com/matst80/hellotls/internal/obs"
)

const maxHeader = 16 << 10

var (
	version = "dev"
	cli     struct {
		Config  `embed:""`
		Debug   bool `help:"enable debug logs"`
		Version kong.VersionFlag
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("hellotls-probe"),
		kong.Description("Dial a hellotls server concurrently and check every response."),
		kong.Vars{"version": version})
	obs.EnableDebug(cli.Debug)

	err := run(ctx, &cli.Config)
	stop()
	cmd.FatalIfErrorf(err)
}

type outcome struct {
	id   int
	resp *httpx.Response
	took time.Duration
	err  error
}

// run fires Count probes at once and fails if any of them did.
func run(ctx context.Context, c *Config) error {
	tlsCfg, err := c.tlsConfig()
	if err != nil {
		return err
	}
	obs.Info("probe.start", obs.Fields{"addr": c.Addr, "count": c.Count, "server_name": tlsCfg.ServerName})

	results := make([]outcome, c.Count)
	var wg sync.WaitGroup
	for i := range c.Count {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			resp, err := probeWithRetry(ctx, c, tlsCfg)
			results[i] = outcome{id: i, resp: resp, took: time.Since(start), err: err}
		}()
	}
	wg.Wait()

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			obs.Error("probe.failed", obs.Fields{"id": r.id, "err": r.err.Error(), "took_ms": r.took.Milliseconds()})
			continue
		}
		obs.Info("probe.ok", obs.Fields{"id": r.id, "status": r.resp.Status, "body": string(r.resp.Body), "took_ms": r.took.Milliseconds()})
	}
	obs.Info("probe.done", obs.Fields{"ok": c.Count - failed, "failed": failed})
	if failed > 0 {
		return fmt.Errorf("%d of %d probes failed", failed, c.Count)
	}
	return nil
}

// probeWithRetry retries connection failures only; a bad response is final.
func probeWithRetry(ctx context.Context, c *Config, tlsCfg *tls.Config) (*httpx.Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	return backoff.Retry(ctx, func() (*httpx.Response, error) {
		conn, err := dial(ctx, c, tlsCfg)
		if err != nil {
			obs.Debug("probe.dial", obs.Fields{"err": err.Error()})
			return nil, err
		}
		resp, err := exchange(conn, c)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.Retries))
}

func dial(ctx context.Context, c *Config, tlsCfg *tls.Config) (*tls.Conn, error) {
	d := &tls.Dialer{NetDialer: &net.Dialer{Timeout: c.Timeout}, Config: tlsCfg}
	dctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "tcp", c.Addr)
	if err != nil {
		return nil, err
	}
	return conn.(*tls.Conn), nil
}

func exchange(conn *tls.Conn, c *Config) (*httpx.Response, error) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(c.Timeout))
	resp, err := httpx.ParseResponse(bufio.NewReader(conn), maxHeader)
	if err != nil {
		return nil, err
	}
	if resp.Status != 200 {
		return resp, fmt.Errorf("unexpected status %d %s", resp.Status, resp.Reason)
	}
	if c.Expect != "" && string(resp.Body) != c.Expect {
		return resp, fmt.Errorf("unexpected body %q", resp.Body)
	}
	return resp, nil
}
