package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bpbd-project/bpbd/pkg/transport"
)

// Validator checks a loaded Config against the required-key and
// value-shape rules for the "[server]" section, fail-fast in field order.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll runs every check and returns the first failure.
func (v *Validator) ValidateAll() error {
	s := &v.cfg.Server

	if s.ServerPort <= 0 || s.ServerPort > 65535 {
		return newValidationError("server", "server_port", fmt.Errorf("%w: must be 1-65535, got %d", ErrInvalidValue, s.ServerPort))
	}
	if s.NumThreads <= 0 {
		return newValidationError("server", "num_threads", fmt.Errorf("%w: must be > 0, got %d", ErrInvalidValue, s.NumThreads))
	}
	if strings.TrimSpace(s.WorkDir) == "" {
		return newValidationError("server", "work_dir", ErrMissingRequiredField)
	}
	if err := ensureDir(s.WorkDir); err != nil {
		return newValidationError("server", "work_dir", err)
	}

	// pre_call_templ/post_call_templ are processor-role keys; the balancer
	// and decoder binaries read the same [server] section and leave both
	// blank, so neither is required here — cmd/processor checks for at
	// least one being set itself, once it knows it is the processor role.
	if s.PreCallTempl != "" {
		if err := validateCallTemplate(s.PreCallTempl); err != nil {
			return newValidationError("server", "pre_call_templ", err)
		}
	}
	if s.PostCallTempl != "" {
		if err := validateCallTemplate(s.PostCallTempl); err != nil {
			return newValidationError("server", "post_call_templ", err)
		}
	}

	if s.IsTLSServer {
		if err := v.validateTLS(); err != nil {
			return err
		}
	}

	return nil
}

func (v *Validator) validateTLS() error {
	s := &v.cfg.Server

	switch s.TLSMode {
	case transport.ProfileOld, transport.ProfileIntermediate, transport.ProfileModern:
	default:
		return newValidationError("server", "tls_mode", transport.ErrUnknownProfile)
	}

	if s.TLSCiphers != "" {
		fmt.Fprintf(os.Stderr, "warning: [server] tls_ciphers is set; the fixed cipher suite list for tls_mode=%s is used instead\n", s.TLSMode)
	}

	type pemKey struct {
		name string
		path string
	}
	for _, k := range []pemKey{
		{"tls_crt_file", s.TLSCrtFile},
		{"tls_key_file", s.TLSKeyFile},
	} {
		if k.path == "" {
			return newValidationError("server", k.name, ErrMissingRequiredField)
		}
		if err := validatePEMFile(k.path); err != nil {
			return newValidationError("server", k.name, err)
		}
	}

	if s.TLSTmpDHFile != "" {
		if err := validatePEMFile(s.TLSTmpDHFile); err != nil {
			return newValidationError("server", "tls_tmp_dh_file", err)
		}
	}

	return nil
}

func validatePEMFile(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".pem" && ext != ".crt" && ext != ".key" {
		return fmt.Errorf("%w: unrecognised extension %q", ErrInvalidValue, ext)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigNotFound, err)
	}
	return nil
}

func validateCallTemplate(tmpl string) error {
	for _, placeholder := range []string{"<WORK_DIR>", "<JOB_UID>", "<LANGUAGE>"} {
		if !strings.Contains(tmpl, placeholder) {
			return fmt.Errorf("%w: missing %s placeholder", ErrInvalidValue, placeholder)
		}
	}
	return nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return os.MkdirAll(dir, 0o755)
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: not a directory", ErrInvalidValue)
	}
	return nil
}
