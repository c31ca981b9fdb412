package main

import (
	"os"
	"time"

	"github.com/matst80/hellotls/internal/credentials"
	"github.com/matst80/hellotls/internal/obs"
)

type GencertCmd struct {
	Hosts    []string      `help:"DNS names and IPs for the certificate, first is the common name" default:"localhost,127.0.0.1"`
	ValidFor time.Duration `help:"certificate lifetime" default:"8760h"`
	CertOut  string        `help:"certificate output path" default:"cert.pem" type:"path"`
	KeyOut   string        `help:"private key output path" default:"key.pem" type:"path"`
}

func (g *GencertCmd) Run() error {
	certPEM, keyPEM, err := credentials.GenerateSelfSigned(g.Hosts, g.ValidFor)
	if err != nil {
		return err
	}
	if err := os.WriteFile(g.CertOut, certPEM, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(g.KeyOut, keyPEM, 0o600); err != nil {
		return err
	}
	obs.Info("gencert.written", obs.Fields{"cert": g.CertOut, "key": g.KeyOut, "hosts": g.Hosts})
	return nil
}
