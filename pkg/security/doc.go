/*
Package security provides the cluster's certificate authority and mTLS
certificate lifecycle for Heartwood's primary/follower RPC traffic.

# Certificate Authority

CertAuthority holds a self-signed root (RSA 4096, 10-year validity) and
issues short-lived (90-day) leaf certificates to primaries, followers,
and CLI clients. The root private key is encrypted with the cluster's
derived key (DeriveKeyFromClusterID) before being written to the token
store, so a copy of the store file alone does not leak it.

	Root CA (self-signed, RSA 4096, 10y)
	└── machine certificates (RSA 2048, 90d, ServerAuth+ClientAuth)
	└── CLI client certificates (RSA 2048, 90d, ClientAuth)

# Usage

	ca := security.NewCertAuthority(tokenStore)
	if err := ca.Initialize(); err != nil { ... }
	if err := ca.SaveToStore(); err != nil { ... }

	cert, err := ca.IssueNodeCertificate(machineID, "primary", dnsNames, ips)

	creds := credentials.NewTLS(&tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
	})

# Certificate Rotation

CertNeedsRotation reports true once fewer than 30 days remain before
NotAfter. No package in this module calls it; reissuing goes through
IssueNodeCertificate.
*/
package security
