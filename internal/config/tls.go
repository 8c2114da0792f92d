package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
)

// CreateRemoteTLSConfig builds the TLS settings for the management service
// session from iotc_server_cert and, for X509 auth, the client key pair.
func (c *Config) CreateRemoteTLSConfig() (*tls.Config, error) {
	d := c.Device
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.ServerCert != "" {
		pem, err := os.ReadFile(d.ServerCert)
		if err != nil {
			return nil, fmt.Errorf("read server cert: %w", err)
		}
		rootCertPool := x509.NewCertPool()
		if ok := rootCertPool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("failed to parse server CA certificate %s", d.ServerCert)
		}
		tlsCfg.RootCAs = rootCertPool
	}

	if d.Auth.Type == AuthX509 {
		cert, err := tls.LoadX509KeyPair(d.Auth.Param("client_cert"), d.Auth.Param("client_key"))
		if err != nil {
			return nil, fmt.Errorf("load client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}

// Kafka TLS, nil when no CA is configured.
func (c *Config) CreateKafkaTLSConfig() (*tls.Config, error) {
	if c.KafkaCACert == "" {
		return nil, nil
	}

	rootCertPool := x509.NewCertPool()
	if ok := rootCertPool.AppendCertsFromPEM([]byte(c.KafkaCACert)); !ok {
		return nil, fmt.Errorf("failed to parse Kafka CA certificate")
	}

	// Extract host without port for TLS ServerName
	var serverName string
	if len(c.KafkaBrokers) > 0 {
		host, _, err := net.SplitHostPort(c.KafkaBrokers[0])
		if err != nil {
			serverName = c.KafkaBrokers[0]
		} else {
			serverName = host
		}
	}

	tlsCfg := &tls.Config{
		RootCAs:    rootCertPool,
		ServerName: serverName, // must match SAN in certificate
		MinVersion: tls.VersionTLS12,
	}
	if c.KafkaCert != "" && c.KafkaKey != "" {
		cert, err := tls.X509KeyPair([]byte(c.KafkaCert), []byte(c.KafkaKey))
		if err != nil {
			return nil, fmt.Errorf("parse Kafka client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	return tlsCfg, nil
}
