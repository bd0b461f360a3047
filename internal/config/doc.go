// Package config loads and validates meridian's TOML configuration.
//
// Every daemon process and the CLI resolve the same file; daemons read only
// the sections they need at construction time. Defaults are embedded in
// sample_config.toml and mirrored by Default so a missing file still yields
// a runnable (simulated) observatory.
package config
