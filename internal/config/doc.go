// Package config loads, validates, and defaults slate's TOML configuration.
package config
