// Package config loads the wallboard-gateway YAML configuration.
//
// Values of the form ${VAR} are replaced with environment variables before
// parsing. Durations are written as Go duration strings ("60s", "2m") and
// omitted settings take the defaults declared in this package.
package config
