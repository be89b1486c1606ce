// Package config handles loading and validating supervisor configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GLSUPERVISOR_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - MQTT passwords and InfluxDB tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/supervisor.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Worker.Binary, cfg.Supervisor.MaxRestarts)
package config
