package config

import (
	"crypto/tls"
	"fmt"

	"github.com/bpbd-project/bpbd/pkg/transport"
)

// TLSConfig builds the *tls.Config for this role's "[server]" section, or
// returns (nil, nil) if is_tls_server is false, so a binary can pass the
// result straight to transport.New regardless of whether TLS is enabled.
// Validation has already checked tls_mode and that tls_crt_file/tls_key_file
// exist with a recognised extension by the time Initialize returns a
// *Config; it does not parse them, so a file whose contents are not a
// valid certificate/key pair (or that changed or disappeared since
// validation) fails here.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if !c.Server.IsTLSServer {
		return nil, nil
	}

	profile, err := transport.ParseProfile(string(c.Server.TLSMode))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	tlsCfg, err := transport.ServerTLSConfig(profile, c.Server.TLSCrtFile, c.Server.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return tlsCfg, nil
}
