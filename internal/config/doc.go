// Package config loads the benchmark configuration from a YAML (or JSON) file
// and fills in the defaults used when a field is left out.
package config
