// Package config loads nsbrokerd's TOML configuration, with every field
// defaulting to the constant spec.md §6 specifies as the "Bit-exact
// constant" for that knob.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the broker daemon's full configuration surface.
type Config struct {
	Broker Broker `toml:"broker"`
	Log    Log    `toml:"log"`
}

// Broker holds the rendezvous-protocol tunables from spec.md §6/§3.
type Broker struct {
	// RegPath and ReqPath are the registration and request listening
	// endpoints (spec.md §6: OP_REG_PATH / OP_REQ_PATH).
	RegPath string `toml:"registration_path"`
	ReqPath string `toml:"request_path"`
	// StatusPath is the additive introspection endpoint (SPEC_FULL.md §4.7).
	StatusPath string `toml:"status_path"`

	TickRateHz            int   `toml:"tick_rate_hz"`
	AcceptBatch           int   `toml:"accept_batch"`
	MaxRegistrationSlots  int   `toml:"max_registration_handshakes"`
	MaxRequestSlots       int   `toml:"max_request_handshakes"`
	MaxHosts              int   `toml:"max_hosts"`
	MaxHostsPerUser       int   `toml:"max_hosts_per_user"`
	MaxCallerHandshakes   int   `toml:"max_caller_handshakes"`
	// MaxPendingRegistrationsPerUID caps how many of MaxRegistrationSlots a
	// single uid, root included, may hold concurrently (spec.md §4.4 step 1).
	MaxPendingRegistrationsPerUID int   `toml:"max_pending_registrations_per_uid"`
	RegistrationTimeoutMS         int64 `toml:"registration_timeout_ms"`
	RequestTimeoutMS              int64 `toml:"request_timeout_ms"`

	// HostIdleTimeoutMS enables the optional per-host watchdog eviction
	// (SPEC_FULL.md §4.9). 0 disables it, matching spec.md §4.4 step 3's
	// "no timeout-based host eviction is mandatory".
	HostIdleTimeoutMS int64 `toml:"host_idle_timeout_ms"`

	// DrainGraceMS bounds the graceful-shutdown wait (SPEC_FULL.md §4.8).
	DrainGraceMS int64 `toml:"drain_grace_ms"`
}

// Log holds the ambient structured-logging configuration.
type Log struct {
	Level    string `toml:"level"`
	File     string `toml:"file"`
	Disabled bool   `toml:"disabled"`
}

// Default returns the spec-mandated defaults (spec.md §6's bit-exact constants).
func Default() *Config {
	return &Config{
		Broker: Broker{
			RegPath:                       "/var/run/nsbroker/registration.sock",
			ReqPath:                       "/var/run/nsbroker/request.sock",
			StatusPath:                    "/var/run/nsbroker/status.sock",
			TickRateHz:                    12,
			AcceptBatch:                   100,
			MaxRegistrationSlots:          25,
			MaxRequestSlots:               25,
			MaxHosts:                      150,
			MaxHostsPerUser:               5,
			MaxCallerHandshakes:           20,
			MaxPendingRegistrationsPerUID: 5,
			RegistrationTimeoutMS:         5000,
			RequestTimeoutMS:              5000,
			HostIdleTimeoutMS:             0,
			DrainGraceMS:                  1000,
		},
		Log: Log{
			Level: "INFO",
		},
	}
}

// Load reads a TOML file at path and overlays it on top of Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", path, err)
	}
	return cfg, nil
}
