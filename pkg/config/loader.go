package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/bpbd-project/bpbd/pkg/transport"
)

// Initialize loads, defaults, and validates the "[server]" section of the
// INI file at path. This is the entry point every cmd/* binary calls
// after parsing its -c flag.
func Initialize(ctx context.Context, path string) (*Config, error) {
	log := slog.With("config_file", path)
	log.Info("loading configuration")

	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded",
		"server_port", cfg.Server.ServerPort,
		"num_threads", cfg.Server.NumThreads,
		"is_tls_server", cfg.Server.IsTLSServer)
	return cfg, nil
}

func load(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, newLoadError(path, ErrConfigNotFound)
		}
		return nil, newLoadError(path, err)
	}

	file, err := ini.Load(path)
	if err != nil {
		return nil, newLoadError(path, fmt.Errorf("%w: %v", ErrInvalidINI, err))
	}

	sec, err := file.GetSection("server")
	if err != nil {
		return nil, newLoadError(path, fmt.Errorf("%w: [server]", ErrSectionMissing))
	}

	server := Server{
		ServerPort:    sec.Key("server_port").MustInt(0),
		IsTLSServer:   sec.Key("is_tls_server").MustBool(false),
		TLSMode:       transport.Profile(sec.Key("tls_mode").String()),
		TLSCiphers:    sec.Key("tls_ciphers").String(),
		TLSCrtFile:    sec.Key("tls_crt_file").String(),
		TLSKeyFile:    sec.Key("tls_key_file").String(),
		TLSTmpDHFile:  sec.Key("tls_tmp_dh_file").String(),
		NumThreads:    sec.Key("num_threads").MustInt(0),
		WorkDir:       strings.TrimSpace(sec.Key("work_dir").String()),
		PreCallTempl:  sec.Key("pre_call_templ").String(),
		PostCallTempl: sec.Key("post_call_templ").String(),
	}

	if err := mergeServerDefaults(&server); err != nil {
		return nil, newLoadError(path, fmt.Errorf("merging defaults: %w", err))
	}
	// mergo cannot tell an explicit 0 from a blank key, so a value actually
	// written in the file is put back for validation to judge.
	if strings.TrimSpace(sec.Key("server_port").String()) != "" {
		server.ServerPort = sec.Key("server_port").MustInt(0)
	}
	if strings.TrimSpace(sec.Key("num_threads").String()) != "" {
		server.NumThreads = sec.Key("num_threads").MustInt(0)
	}

	balancer, err := loadBalancer(file)
	if err != nil {
		return nil, newLoadError(path, err)
	}

	return &Config{configPath: path, Server: server, Balancer: balancer}, nil
}

// loadBalancer reads the optional "[balancer]" section. A file with no such
// section returns (nil, nil) — only cmd/balancer requires it.
func loadBalancer(file *ini.File) (*Balancer, error) {
	if !file.HasSection("balancer") {
		return nil, nil
	}
	sec, err := file.GetSection("balancer")
	if err != nil {
		return nil, err
	}

	return &Balancer{
		DecoderAddr:   sec.Key("decoder_addr").String(),
		ProcessorAddr: sec.Key("processor_addr").String(),
		Languages:     parseLanguages(sec.Key("languages").String()),
	}, nil
}

// parseLanguages parses "en:de,fr|nl:en" into {"en": ["de","fr"], "nl": ["en"]}.
// A blank or malformed entry is skipped rather than treated as fatal — the
// balancer still starts with whatever languages parsed cleanly. "|" rather
// than ";" separates entries since ini.v1 treats a bare ";" as the start of
// an inline comment.
func parseLanguages(raw string) map[string][]string {
	out := make(map[string][]string)
	for _, pair := range strings.Split(raw, "|") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		src, targets, ok := strings.Cut(pair, ":")
		src = strings.TrimSpace(src)
		if !ok || src == "" {
			continue
		}
		for _, tgt := range strings.Split(targets, ",") {
			tgt = strings.TrimSpace(tgt)
			if tgt != "" {
				out[src] = append(out[src], tgt)
			}
		}
	}
	return out
}

func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}
