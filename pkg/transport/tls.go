package transport

import (
	"crypto/tls"
	"fmt"
)

// Profile names one of the three Mozilla server-side TLS configurations
// the core's TLS adapter supports. Each pins a TLS version floor and a
// fixed cipher suite list. Grounded on original_source's tls_mode.hpp.
type Profile string

const (
	ProfileOld          Profile = "old"
	ProfileIntermediate Profile = "int"
	ProfileModern       Profile = "mod"
)

// ErrUnknownProfile is returned for any profile name other than the three
// recognised ones. Misconfiguration here is fatal at startup.
var ErrUnknownProfile = fmt.Errorf("transport: unknown TLS profile, want one of %q, %q, %q", ProfileOld, ProfileIntermediate, ProfileModern)

// cipherSuites mirrors the fixed OpenSSL cipher suite string each Mozilla
// profile pins, translated to the equivalent Go cipher suite IDs
// (TLS 1.3 suites are not configurable in crypto/tls and are included
// automatically whenever MinVersion allows TLS 1.3).
var cipherSuites = map[Profile][]uint16{
	ProfileOld: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	},
	ProfileIntermediate: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
	},
	ProfileModern: {
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	},
}

// minVersion is each profile's TLS version floor.
var minVersion = map[Profile]uint16{
	ProfileOld:          tls.VersionTLS10,
	ProfileIntermediate: tls.VersionTLS12,
	ProfileModern:       tls.VersionTLS13,
}

// ServerTLSConfig loads the certificate chain and private key and returns a
// *tls.Config pinned to the profile's version floor and cipher suite list.
// An unknown profile name or a cert/key pair that cannot be loaded is an
// error. DH parameters are not loaded, and file extensions are not checked
// here.
func ServerTLSConfig(profile Profile, certFile, keyFile string) (*tls.Config, error) {
	floor, ok := minVersion[profile]
	if !ok {
		return nil, ErrUnknownProfile
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: loading TLS certificate/key: %w", err)
	}

	return &tls.Config{
		MinVersion:               floor,
		CipherSuites:             cipherSuites[profile],
		PreferServerCipherSuites: true,
		Certificates:             []tls.Certificate{cert},
	}, nil
}

// ParseProfile validates a profile name read from configuration.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileOld, ProfileIntermediate, ProfileModern:
		return Profile(name), nil
	default:
		return "", ErrUnknownProfile
	}
}
