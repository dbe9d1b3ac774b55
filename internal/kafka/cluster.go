// Package kafka builds franz-go client options for the Kafka queue backend.
package kafka

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Getter reads a configuration value by key.
type Getter interface {
	Get(key string) string
}

// ClusterConfig defines the Kafka cluster the relay produces to.
type ClusterConfig struct {
	Brokers  []string
	ClientID string
	Auth     AuthConfig
	TLS      TLSConfig
}

// AuthConfig defines SASL authentication.
type AuthConfig struct {
	Mechanism string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string
	Password  string
}

// TLSConfig defines TLS settings.
type TLSConfig struct {
	Enabled    bool
	CAFile     string
	CertFile   string // mTLS
	KeyFile    string // mTLS
	SkipVerify bool
}

// ClusterFromConfig reads the cluster under the "Kafka." configuration prefix.
// Brokers is a comma-separated list.
func ClusterFromConfig(g Getter) *ClusterConfig {
	cfg := &ClusterConfig{
		ClientID: g.Get("Kafka.ClientId"),
		Auth: AuthConfig{
			Mechanism: strings.ToUpper(g.Get("Kafka.Auth.Mechanism")),
			Username:  g.Get("Kafka.Auth.Username"),
			Password:  g.Get("Kafka.Auth.Password"),
		},
		TLS: TLSConfig{
			Enabled:    parseBool(g.Get("Kafka.Tls.Enabled")),
			CAFile:     g.Get("Kafka.Tls.CaFile"),
			CertFile:   g.Get("Kafka.Tls.CertFile"),
			KeyFile:    g.Get("Kafka.Tls.KeyFile"),
			SkipVerify: parseBool(g.Get("Kafka.Tls.SkipVerify")),
		},
	}
	for _, b := range strings.Split(g.Get("Kafka.Brokers"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Brokers = append(cfg.Brokers, b)
		}
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "studyrelay"
	}
	return cfg
}

// Validate checks the cluster configuration for errors.
func (c *ClusterConfig) Validate() error {
	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required"))
	}

	if c.Auth.Mechanism != "" {
		switch c.Auth.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("auth.mechanism %q is not valid (must be PLAIN, SCRAM-SHA-256, or SCRAM-SHA-512)", c.Auth.Mechanism))
		}
		if c.Auth.Username == "" {
			errs = append(errs, errors.New("auth.username is required when mechanism is set"))
		}
		if c.Auth.Password == "" {
			errs = append(errs, errors.New("auth.password is required when mechanism is set"))
		}
	}

	if c.TLS.CertFile != "" && c.TLS.KeyFile == "" {
		errs = append(errs, errors.New("tls.keyFile is required when certFile is specified"))
	}
	if c.TLS.KeyFile != "" && c.TLS.CertFile == "" {
		errs = append(errs, errors.New("tls.certFile is required when keyFile is specified"))
	}

	return errors.Join(errs...)
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
