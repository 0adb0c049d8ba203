// Package config provides configuration management for accessd.
//
// Configuration is loaded from an optional YAML file and overridden by
// ACCESSD_* environment variables. Each attribute remembers where its
// value came from (default, file or environment) so the
// "configuration show" command can report provenance.
package config
