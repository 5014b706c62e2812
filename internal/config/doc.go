// Package config loads the ProofChain daemon configuration from JSON, TOML or
// YAML files and fills in defaults for every optional field. Secrets are never
// stored in the file; the configuration only names the environment variables
// that carry them.
package config
