// Package config provides configuration loading and validation for the
// voice capture service. It handles YAML-based configuration with
// per-section validation, fills in defaults for omitted fields, and
// lets CAPTURE_* environment variables override values such as API
// credentials.
package config
