// Package config loads and validates the INI-style per-role configuration
// for the control plane. Every binary (processor, balancer, decoder)
// reads the same file format through Initialize: every role reads the
// "[server]" section, and the optional "[balancer]" section is loaded when
// present.
package config

import "github.com/bpbd-project/bpbd/pkg/transport"

// Server holds the fields read from a role's "[server]" section. Field
// names mirror the INI keys; see loader.go for the exact mapping.
type Server struct {
	ServerPort    int
	IsTLSServer   bool
	TLSMode       transport.Profile
	TLSCiphers    string
	TLSCrtFile    string
	TLSKeyFile    string
	TLSTmpDHFile  string
	NumThreads    int
	WorkDir       string
	PreCallTempl  string
	PostCallTempl string
}

// Balancer holds the fields read from the optional "[balancer]" section,
// used only by cmd/balancer. DecoderAddr/ProcessorAddr are the upstream
// transport.Dial targets a forwarded frame is routed to; Languages seeds
// the balancer's langreg.Registry and supported-languages response at
// startup. A file with no "[balancer]" section leaves this nil — the
// processor and decoder binaries never look at it.
type Balancer struct {
	DecoderAddr   string
	ProcessorAddr string
	Languages     map[string][]string
}

// Config is the fully loaded, defaulted, and validated configuration for
// one role's process.
type Config struct {
	configPath string
	Server     Server
	Balancer   *Balancer
}

// Path returns the file Config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}
