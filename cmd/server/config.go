package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"

	"github.com/matst80/hellotls/internal/server"
)

type Globals struct {
	Debug   bool
	Version string
}

// ServeCmd holds the serve command configuration, from flags, HELLOTLS_* env
// vars or the --config file.
type ServeCmd struct {
	Addr string `arg:"" help:"address to listen on (host:port)"`
	Cert string `short:"c" help:"PEM certificate chain file, leaf first" type:"path" env:"HELLOTLS_CERT"`
	Key  string `short:"k" help:"PEM PKCS#8 private key file" type:"path" env:"HELLOTLS_KEY"`

	Metrics string `help:"metrics, stats and health listen address (empty disables)" default:":9100" env:"HELLOTLS_METRICS"`

	HandshakeTimeout time.Duration `help:"TLS handshake time limit (0 = none)" default:"10s" env:"HELLOTLS_HANDSHAKE_TIMEOUT"`
	WriteTimeout     time.Duration `help:"response write time limit (0 = none)" default:"0s" env:"HELLOTLS_WRITE_TIMEOUT"`
	AcceptErrors     string        `help:"on accept error: fatal stops serving, skip keeps accepting" default:"fatal" enum:"fatal,skip" env:"HELLOTLS_ACCEPT_ERRORS"`
	Body             string        `help:"response body (default Hello world!)" env:"HELLOTLS_BODY"`

	// Admission control
	MaxConns    int           `help:"max simultaneously open connections, excess waits in the accept queue (0 = unbounded)" default:"0" env:"HELLOTLS_MAX_CONNS"`
	Rate        int           `help:"global accepted connections per second (0 = unlimited)" default:"0" env:"HELLOTLS_RATE"`
	PeerRate    int           `help:"accepted connections per second per peer IP (0 = unlimited)" default:"0" env:"HELLOTLS_PEER_RATE"`
	Burst       int           `help:"token bucket capacity for --rate and --peer-rate" default:"20" env:"HELLOTLS_BURST"`
	IdleCleanup time.Duration `help:"drop per-peer buckets idle for this long" default:"1m" env:"HELLOTLS_IDLE_CLEANUP"`

	Secret SecretFlags `embed:"" prefix:"tls-"`
	Redis  RedisFlags  `embed:"" prefix:"redis-"`
}

// SecretFlags select a Kubernetes TLS secret as the credential source.
type SecretFlags struct {
	Secret     string `help:"kubernetes.io/tls secret to load instead of --cert/--key" env:"HELLOTLS_TLS_SECRET"`
	Namespace  string `help:"namespace of --tls-secret" default:"default" env:"HELLOTLS_TLS_NAMESPACE"`
	Kubeconfig string `help:"kubeconfig path (empty = in-cluster)" type:"path" env:"HELLOTLS_TLS_KUBECONFIG"`
}

// RedisFlags share connection counters between instances.
type RedisFlags struct {
	Addr     string `help:"redis address for shared stats (empty = in-memory)" env:"HELLOTLS_REDIS_ADDR"`
	Password string `help:"redis password" env:"HELLOTLS_REDIS_PASSWORD"`
	DB       int    `name:"db" help:"redis database" default:"0" env:"HELLOTLS_REDIS_DB"`
}

func (s *ServeCmd) Validate() error {
	if s.Secret.Secret == "" && (s.Cert == "" || s.Key == "") {
		return errors.New("--cert and --key are required unless --tls-secret is set")
	}
	if s.HandshakeTimeout < 0 || s.WriteTimeout < 0 || s.IdleCleanup < 0 {
		return errors.New("timeouts must not be negative")
	}
	if s.MaxConns < 0 || s.Rate < 0 || s.PeerRate < 0 || s.Burst < 0 {
		return errors.New("connection limits must not be negative")
	}
	if (s.Rate > 0 || s.PeerRate > 0) && s.Burst == 0 {
		return errors.New("--burst must be positive when a rate is set")
	}
	if _, err := server.ParseAcceptPolicy(s.AcceptErrors); err != nil {
		return err
	}
	return nil
}

// yamlLoader resolves flag values from a YAML mapping keyed by flag name.
// Underscores may stand in for hyphens, and a command's flags may be nested
// under the command name.
func yamlLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	return kong.ResolverFunc(func(_ *kong.Context, parent *kong.Path, flag *kong.Flag) (any, error) {
		if v, ok := lookup(values, flag.Name); ok {
			return v, nil
		}
		if parent != nil && parent.Command != nil {
			if section, ok := values[parent.Command.Name].(map[string]any); ok {
				if v, ok := lookup(section, flag.Name); ok {
					return v, nil
				}
			}
		}
		return nil, nil
	}), nil
}

func lookup(m map[string]any, name string) (any, bool) {
	for _, key := range []string{name, strings.ReplaceAll(name, "-", "_")} {
		raw, ok := m[key]
		if !ok || raw == nil {
			continue
		}
		if _, nested := raw.(map[string]any); nested {
			continue
		}
		return fmt.Sprint(raw), true
	}
	return nil, false
}
