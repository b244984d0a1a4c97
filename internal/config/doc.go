// Package config loads, normalizes, and validates chipscore configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and sanitizes engine lists and worker counts.
// The Config type centralizes every knob the pipeline and CLI need, from the
// source collection location to render engine preference and stall thresholds.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical engine names, and clear validation errors.
package config
