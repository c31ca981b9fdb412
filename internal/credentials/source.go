package credentials

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Material is the raw output of a credential source: DER certificates in
// chain order and every PKCS#8 key found.
type Material struct {
	Chain [][]byte
	Keys  [][]byte
}

// Source abstracts where server credentials live (files, Kubernetes secret, ...).
type Source interface {
	Load(ctx context.Context) (*Material, error)
}

type FileSource struct {
	CertPath string
	KeyPath  string
}

func (s FileSource) Load(ctx context.Context) (*Material, error) {
	chain, err := LoadCertificateChain(s.CertPath)
	if err != nil {
		return nil, err
	}
	keys, err := LoadPrivateKeys(s.KeyPath)
	if err != nil {
		return nil, err
	}
	return &Material{Chain: chain, Keys: keys}, nil
}

// SecretSource reads a kubernetes.io/tls secret.
type SecretSource struct {
	Client     kubernetes.Interface
	Namespace  string
	SecretName string
}

func (s SecretSource) Load(ctx context.Context) (*Material, error) {
	secret, err := s.Client.CoreV1().Secrets(s.Namespace).Get(ctx, s.SecretName, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to get secret %s/%s: %w", ErrInvalidCertificate, s.Namespace, s.SecretName, err)
	}

	certBytes, ok := secret.Data[corev1.TLSCertKey]
	if !ok {
		return nil, fmt.Errorf("%w: secret %s/%s missing %s", ErrInvalidCertificate, s.Namespace, s.SecretName, corev1.TLSCertKey)
	}
	keyBytes, ok := secret.Data[corev1.TLSPrivateKeyKey]
	if !ok {
		return nil, fmt.Errorf("%w: secret %s/%s missing %s", ErrInvalidKey, s.Namespace, s.SecretName, corev1.TLSPrivateKeyKey)
	}

	chain, err := ParseCertificateChain(certBytes)
	if err != nil {
		return nil, fmt.Errorf("secret %s/%s: %w", s.Namespace, s.SecretName, err)
	}
	return &Material{Chain: chain, Keys: ParsePrivateKeys(keyBytes)}, nil
}
