// Package config handles loading and validating configuration for the
// terminal device, the admin console and the telemetry sink.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (the device keys keep the
//     camelCase names of the device .env file: projectId, deviceId, tokenExpMins, ...)
//   - Validation of shared fields, plus per-binary ValidateDevice,
//     ValidateAdmin and ValidateSink
//   - Default value handling
//
// Security Considerations:
//   - The device private key is referenced by path, never embedded
//   - The relay access token and InfluxDB token should come from the environment
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ClientID())
package config
