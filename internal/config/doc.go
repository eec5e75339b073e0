// Package config loads, normalizes, and validates DAQ server configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), and reads TOML files. The Config type centralizes every knob the
// server needs: listen address, session and state directories, janitor
// retention, transfer lifetime, and the acquisition backend.
//
// Always obtain settings through this package so downstream code receives
// absolute paths, canonical modes, and clear validation errors.
package config
