// Package config handles loading and validating the videohub bridge
// configuration.
//
// This package manages:
//   - Loading configuration from a YAML file, which may be absent
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// The router and broker addresses keep the variable names existing
// deployments use: VIDEOHUB_ADDRESS, VIDEOHUB_PORT, BACKEND_ADDRESS and
// BACKEND_PORT. Secrets should come from VIDEOHUB_BRIDGE_* variables rather
// than the file.
//
// Usage:
//
//	cfg, err := config.Load(config.PathFromEnv())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Videohub.Host)
package config
