// Package config loads burrow settings from BURROW_* environment variables.
package config
