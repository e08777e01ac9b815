// Package config provides configuration loading and validation for the headband recorder.
// A YAML file is decoded over Default, so a file only needs the fields it changes,
// and every section is validated before the service starts.
package config
