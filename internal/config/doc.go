// Package config loads, validates, and defaults the TOML configuration
// used by the sublate CLI and pipeline components.
package config
