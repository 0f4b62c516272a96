// Package config loads and validates CloudSync Core configuration.
//
// Configuration is read from a YAML file, layered over hardcoded defaults,
// and finally overridden by CLOUDSYNC_* environment variables. Secrets
// (cloud password, MQTT password, InfluxDB token) should always come from
// the environment or a .env file, never the YAML file.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.PollInterval())
//
// Durations are stored as integer seconds in YAML and exposed as
// time.Duration via accessor methods.
package config
