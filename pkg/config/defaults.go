package config

import "github.com/bpbd-project/bpbd/pkg/transport"

// defaultServer holds the values applied to any "[server]" key left blank
// in the INI file, merged onto the loaded section with mergo before
// validation runs.
var defaultServer = Server{
	ServerPort:  9000,
	IsTLSServer: false,
	TLSMode:     transport.ProfileIntermediate,
	NumThreads:  4,
	WorkDir:     "/var/lib/bpbd/work",
}
