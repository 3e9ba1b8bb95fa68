// Package config loads and validates the rigup TOML configuration: target
// package set, principal identities, kernel module coordinates, application
// build settings, and service unit names.
package config
