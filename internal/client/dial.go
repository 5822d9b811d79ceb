package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/auth"
)

// apiKeyCredentials attaches the API key to every call.
type apiKeyCredentials struct {
	key        string
	authHeader bool
	secure     bool
}

func (c apiKeyCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	if c.authHeader {
		return map[string]string{auth.AuthorizationHeader: auth.Scheme + c.key}, nil
	}
	return map[string]string{auth.APIKeyHeader: c.key}, nil
}

func (c apiKeyCredentials) RequireTransportSecurity() bool { return c.secure }

func dial(cfg DialConfig) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption

	if cfg.Insecure {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		tlsCfg, err := clientTLSConfig(cfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(tlsCfg)))
	}

	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(apiKeyCredentials{
			key:        cfg.APIKey,
			authHeader: cfg.AuthHeader,
			secure:     !cfg.Insecure,
		}))
	}

	return grpc.NewClient(cfg.Address, opts...)
}

func clientTLSConfig(cfg DialConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if cfg.RootCA != "" {
		pem, err := os.ReadFile(cfg.RootCA)
		if err != nil {
			return nil, fmt.Errorf("failed to read root ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.RootCA)
		}
		tlsCfg.RootCAs = pool
	}

	if cfg.ClientCert != "" || cfg.ClientKey != "" {
		if cfg.ClientCert == "" || cfg.ClientKey == "" {
			return nil, fmt.Errorf("mtls requires both a client certificate and key")
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client key pair: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	return tlsCfg, nil
}
