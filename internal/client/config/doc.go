// Package config loads runtime configuration for the wardsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected via -c or -config. Files ending in
//     .yaml/.yml are YAML, anything else JSON (see parseFile).
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// # File schema
//
// Intervals use timex.Duration, so values can be strings like "3s" or
// integer nanoseconds:
//
//	remote: s3
//	data_file: /var/lib/wardsync/ward7.db
//	sync_interval: 15s
//	conflict_policy: merge
//	s3:
//	  bucket: ward-records
//	  endpoint: http://127.0.0.1:9000
//	indexes:
//	  patients: [mrn]
//
// Environment variables are not read.
package config
