package sink

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"

	"firestige.xyz/udpin/internal/core"
)

// KafkaSASL contains SASL authentication settings.
type KafkaSASL struct {
	Mechanism string `mapstructure:"mechanism"` // PLAIN | SCRAM-SHA-256 | SCRAM-SHA-512
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// KafkaTLS contains TLS settings.
type KafkaTLS struct {
	CACert             string `mapstructure:"ca_cert"`
	ClientCert         string `mapstructure:"client_cert"`
	ClientKey          string `mapstructure:"client_key"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

func saslMechanism(c *KafkaSASL) (sasl.Mechanism, error) {
	switch strings.ToUpper(c.Mechanism) {
	case "", "PLAIN":
		return plain.Mechanism{Username: c.Username, Password: c.Password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, c.Username, c.Password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, c.Username, c.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q: %w", c.Mechanism, core.ErrConfigInvalid)
	}
}

func tlsConfig(c *KafkaTLS) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.InsecureSkipVerify,
	}
	if c.CACert != "" {
		pem, err := os.ReadFile(c.CACert)
		if err != nil {
			return nil, fmt.Errorf("read ca_cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s: %w", c.CACert, core.ErrConfigInvalid)
		}
		cfg.RootCAs = pool
	}
	if c.ClientCert != "" || c.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// dialer returns nil when neither SASL nor TLS is configured, which makes
// kafka-go use its default dialer.
func (c *KafkaConfig) dialer() (*kafka.Dialer, error) {
	if c.SASL == nil && c.TLS == nil {
		return nil, nil
	}
	d := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	if c.SASL != nil {
		m, err := saslMechanism(c.SASL)
		if err != nil {
			return nil, err
		}
		d.SASLMechanism = m
	}
	if c.TLS != nil {
		t, err := tlsConfig(c.TLS)
		if err != nil {
			return nil, err
		}
		d.TLS = t
	}
	return d, nil
}
