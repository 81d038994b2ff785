// Package natsconn opens and shares NATS client connections.
package natsconn

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/lllypuk/actuality/internal/config"
)

// CloseFunc releases a connection obtained from a Connector.
type CloseFunc = func()

// Connector opens a connection. Every successful call must be paired with a call
// to the returned CloseFunc.
type Connector func() (nc *nats.Conn, closeConn CloseFunc, err error)

// ReuseConnection shares a single connection between all callers of connect.
// The connection is closed when the last lease is released and reopened on the
// next call.
func ReuseConnection(connect Connector) Connector {
	var (
		mu     sync.Mutex
		nc     *nats.Conn
		closer CloseFunc
		leased int
	)

	release := func() {
		mu.Lock()
		defer mu.Unlock()

		leased--
		if leased == 0 && closer != nil {
			closer()
			nc, closer = nil, nil
		}
	}

	return func() (*nats.Conn, CloseFunc, error) {
		mu.Lock()
		defer mu.Unlock()

		if nc == nil {
			conn, closeConn, err := connect()
			if err != nil {
				return nil, nil, err
			}
			nc, closer = conn, closeConn
		}
		leased++

		var once sync.Once
		return nc, func() { once.Do(release) }, nil
	}
}

// ConnectURL connects to natsURL with the given client options.
func ConnectURL(natsURL string, opts ...nats.Option) Connector {
	return func() (*nats.Conn, CloseFunc, error) {
		nc, err := nats.Connect(natsURL, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats at %s: %w", natsURL, err)
		}
		return nc, nc.Close, nil
	}
}

// ConnectDefault connects to NATS_URL, or to the local default server.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(nats.DefaultURL)
}

// ConnectConfig builds a Connector from the JetStream client configuration.
func ConnectConfig(cfg config.JetStreamConfig) (Connector, error) {
	opts, err := ClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	return ConnectURL(cfg.URL, opts...), nil
}

// ClientOptions translates the client configuration into nats options.
func ClientOptions(cfg config.JetStreamConfig) ([]nats.Option, error) {
	opts := []nats.Option{nats.Name("actuality")}

	if cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(cfg.ConnectTimeout))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(cfg.MaxReconnects))
	}

	switch {
	case cfg.Token != "" && (cfg.User != "" || cfg.Password != ""):
		return nil, fmt.Errorf("%w: token is exclusive of user and password", config.ErrConflictingOptions)
	case cfg.Token != "":
		opts = append(opts, nats.Token(cfg.Token))
	case cfg.User != "":
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	if cfg.TLSCert != "" || cfg.TLSKey != "" || cfg.TLSCACert != "" {
		tlsConfig, err := loadTLS(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	return opts, nil
}

func loadTLS(cfg config.JetStreamConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, errors.New("tls cert and key must be set together")
	}
	if cfg.TLSCert != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCACert != "" {
		pem, err := os.ReadFile(cfg.TLSCACert)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TLSCACert)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
