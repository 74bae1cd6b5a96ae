// Package config provides configuration loading for Cosmo Core.
//
// Configuration is loaded from a YAML file with hardcoded defaults and
// environment variable overrides (COSMO_SECTION_KEY pattern). The loading
// order is: defaults, then file values, then environment variables.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path})
package config
