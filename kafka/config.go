// Package kafka provides Kafka producer functionality for tag change and
// snapshot publishing.
package kafka

import (
	"crypto/tls"

	"srtplink/config"
)

// SASL mechanism names accepted in cluster configuration.
const (
	SASLNone        = ""
	SASLPlain       = "PLAIN"
	SASLSCRAMSHA256 = "SCRAM-SHA-256"
	SASLSCRAMSHA512 = "SCRAM-SHA-512"
)

// tlsConfigFor returns a TLS configuration if TLS is enabled for the cluster.
func tlsConfigFor(cfg *config.KafkaConfig) *tls.Config {
	if !cfg.UseTLS {
		return nil
	}
	return &tls.Config{
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
}
