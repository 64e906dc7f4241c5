// Package config handles configuration loading for smsdb.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Fields missing from the file keep the values from Default.
//
// # Configuration File
//
// Location, in order:
//
//  1. The --config flag
//  2. Path from the SMSDB_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/smsdb/config.yaml
//
// If none of these exist, Default is used.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	device:
//	  msisdn: "${SMSDB_MSISDN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	database:
//	  busy_timeout: "5s"
//	lists:
//	  ttl: "10m"
package config
