package rpc

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/heartwoodb/heartwood/pkg/security"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/encoding"
)

// ServerOptions builds the grpc.ServerOption set every Heartwood RPC
// listener uses: TLS with this node's certificate, requesting but not
// requiring or verifying a client certificate (tls.RequestClientCert;
// no per-RPC check of it is installed), and the hand-rolled JSON codec
// forced in place of protobuf.
func ServerOptions(certDir string) ([]grpc.ServerOption, error) {
	if !security.CertExists(certDir) {
		return nil, fmt.Errorf("rpc: certificate not found at %s - ensure cluster is initialized", certDir)
	}

	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		ClientAuth:   tls.RequestClientCert,
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		MinVersion:   tls.VersionTLS13,
	}

	return []grpc.ServerOption{
		grpc.Creds(credentials.NewTLS(tlsConfig)),
		grpc.ForceServerCodec(encoding.GetCodec(jsonCodecName)),
	}, nil
}

// DialOptions builds the grpc.DialOption set a follower uses to reach
// a primary: mTLS presenting its own node certificate, verifying the
// primary against the cluster CA, and the matching forced codec.
func DialOptions(certDir string) ([]grpc.DialOption, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load certificate: %w", err)
	}

	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("rpc: load CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}

	return []grpc.DialOption{
		grpc.WithTransportCredentials(credentials.NewTLS(tlsConfig)),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(encoding.GetCodec(jsonCodecName))),
	}, nil
}
