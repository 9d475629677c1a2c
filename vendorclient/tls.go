// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package vendorclient

import "crypto/tls"

// insecureTLSConfig disables certificate verification. Only reachable when
// the operator explicitly sets verify_ssl: false in config, mirroring the
// original daemon's verify_ssl flag for self-signed proxy setups.
func insecureTLSConfig() *tls.Config {
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec
}
