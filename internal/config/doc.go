// Package config loads and validates the service configuration from
// defaults, an optional YAML file and NOTIFY_-prefixed environment
// variables, in increasing order of precedence.
package config
