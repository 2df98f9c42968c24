// Package config loads the daemon configuration from a JSON file located via
// CLAW_CONFIG (default configs/claw.json), fills defaults and resolves
// relative paths against the directory holding the file.
package config
