package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/matst80/hellotls/internal/acceptor"
	"github.com/matst80/hellotls/internal/credentials"
	"github.com/matst80/hellotls/internal/httpx"
	"github.com/matst80/hellotls/internal/obs"
	"github.com/matst80/hellotls/internal/ratelimit"
	"github.com/matst80/hellotls/internal/server"
)

var (
	version = "dev"
	cli     struct {
		Debug   bool            `help:"enable debug logs" env:"HELLOTLS_DEBUG"`
		Config  kong.ConfigFlag `help:"YAML file with flag defaults"`
		Version kong.VersionFlag
		Serve   ServeCmd   `cmd:"" help:"serve the hello response over TLS"`
		Gencert GencertCmd `cmd:"" help:"write a self-signed certificate and PKCS#8 key"`
	}
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := kong.Parse(&cli,
		kong.Name("hellotls"),
		kong.Description("Minimal TLS server answering every connection with a fixed HTTP/1.0 response."),
		kong.Configuration(yamlLoader),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	obs.EnableDebug(cli.Debug)

	if err := cmd.Run(&Globals{Debug: cli.Debug, Version: version}); err != nil {
		obs.Error("server.fatal", obs.Fields{"err": err.Error(), "kind": server.Kind(err)})
		stop()
		os.Exit(1)
	}
}

func (s *ServeCmd) Run(ctx context.Context, g *Globals) error {
	obs.Info("server.start", obs.Fields{"addr": s.Addr, "metrics": s.Metrics, "version": g.Version})

	source, err := s.credentialSource()
	if err != nil {
		return err
	}
	material, err := source.Load(ctx)
	if err != nil {
		return err
	}
	cfg, err := acceptor.NewServerConfig(material.Chain, material.Keys)
	if err != nil {
		return err
	}
	if n := cfg.Ignored(); n > 0 {
		obs.Warn("credentials.keys_ignored", obs.Fields{"ignored": n, "used": 1})
	}

	store, err := newStatsStore(s.Redis)
	if err != nil {
		return err
	}
	if c, ok := store.(io.Closer); ok {
		defer c.Close()
	}

	policy, err := server.ParseAcceptPolicy(s.AcceptErrors)
	if err != nil {
		return err
	}

	ln, err := server.Bind(ctx, s.Addr, server.WithMaxConns(s.MaxConns))
	if err != nil {
		return err
	}
	defer ln.Close()

	var limiter *ratelimit.RateLimiter
	if s.Rate > 0 || s.PeerRate > 0 {
		limiter = ratelimit.NewRateLimiter(s.Rate, s.PeerRate, s.Burst)
		go runCleanupLoop(ctx, limiter, s.IdleCleanup)
	}

	health := &readiness{}
	if s.Metrics != "" {
		go startMetricsServer(ctx, s.Metrics, store, health)
	}

	d := &server.Dispatcher{
		Handler: &server.Handler{
			Acceptor:     acceptor.New(cfg, acceptor.WithHandshakeTimeout(s.HandshakeTimeout)),
			Payload:      s.payload(),
			WriteTimeout: s.WriteTimeout,
		},
		Policy:  policy,
		Limiter: limiter,
		Stats:   store,
	}

	health.setReady(true)
	obs.Info("server.ready", obs.Fields{"addr": ln.Addr().String(), "accept_errors": policy.String(), "max_conns": s.MaxConns})
	err = d.Serve(ctx, ln)
	health.setReady(false)

	if errors.Is(err, context.Canceled) {
		obs.Info("server.shutdown.signal", obs.Fields{})
		return nil
	}
	return err
}

func (s *ServeCmd) payload() []byte {
	if s.Body == "" {
		return httpx.HelloWorld().Bytes()
	}
	return httpx.TextResponse(s.Body).Bytes()
}

func (s *ServeCmd) credentialSource() (credentials.Source, error) {
	if s.Secret.Secret == "" {
		return credentials.FileSource{CertPath: s.Cert, KeyPath: s.Key}, nil
	}
	client, err := kubeClient(s.Secret.Kubeconfig)
	if err != nil {
		return nil, err
	}
	obs.Info("credentials.source", obs.Fields{"type": "kubernetes", "namespace": s.Secret.Namespace, "secret": s.Secret.Secret})
	return credentials.SecretSource{Client: client, Namespace: s.Secret.Namespace, SecretName: s.Secret.Secret}, nil
}

// kubeClient loads the given kubeconfig, or in-cluster config when none is set.
func kubeClient(kubeconfig string) (kubernetes.Interface, error) {
	var config *rest.Config
	if kubeconfig != "" {
		var err error
		config, err = clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
			&clientcmd.ClientConfigLoadingRules{ExplicitPath: kubeconfig},
			&clientcmd.ConfigOverrides{},
		).ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("%w: kubeconfig %s: %w", credentials.ErrInvalidCertificate, kubeconfig, err)
		}
	} else {
		var err error
		config, err = clientcmd.BuildConfigFromFlags("", "")
		if err != nil {
			return nil, fmt.Errorf("%w: in-cluster config: %w", credentials.ErrInvalidCertificate, err)
		}
	}
	return kubernetes.NewForConfig(config)
}

func runCleanupLoop(ctx context.Context, limiter *ratelimit.RateLimiter, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	t := time.NewTicker(maxIdle)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := limiter.CleanupIdle(maxIdle); n > 0 {
				obs.Debug("ratelimit.cleanup", obs.Fields{"removed": n})
			}
		}
	}
}
