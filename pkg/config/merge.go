package config

import "dario.cat/mergo"

// mergeServerDefaults merges defaultServer onto section for any field
// section left at its zero value, using dario.cat/mergo the way
// pkg/config/loader.go elsewhere merges role defaults onto a
// user-provided section.
func mergeServerDefaults(section *Server) error {
	return mergo.Merge(section, defaultServer)
}
