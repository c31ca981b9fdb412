package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// Config holds probe runtime configuration.
type Config struct {
	Addr       string        `arg:"" help:"server address (host:port)"`
	CA         string        `help:"PEM file with certificates to trust (default: system roots)" type:"path" env:"HELLOTLS_PROBE_CA"`
	ServerName string        `help:"TLS server name (default: host of ADDR)" env:"HELLOTLS_PROBE_SERVER_NAME"`
	Insecure   bool          `help:"skip certificate verification"`
	Count      int           `short:"n" help:"number of concurrent probes" default:"1"`
	Timeout    time.Duration `help:"per probe time limit" default:"5s"`
	Retries    uint          `help:"dial attempts per probe" default:"3"`
	Expect     string        `help:"expected response body (empty accepts any)" default:"Hello world!"`
}

func (c *Config) Validate() error {
	if c.Count < 1 {
		return errors.New("--count must be at least 1")
	}
	if c.Retries < 1 {
		return errors.New("--retries must be at least 1")
	}
	if c.Timeout <= 0 {
		return errors.New("--timeout must be positive")
	}
	return nil
}

func (c *Config) tlsConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         c.ServerName,
		InsecureSkipVerify: c.Insecure,
		MinVersion:         tls.VersionTLS12,
	}
	if cfg.ServerName == "" {
		host, _, err := net.SplitHostPort(c.Addr)
		if err != nil {
			return nil, err
		}
		cfg.ServerName = host
	}
	if c.CA != "" {
		data, err := os.ReadFile(c.CA)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no certificates in %s", c.CA)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}
