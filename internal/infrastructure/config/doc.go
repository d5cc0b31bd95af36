// Package config loads config.yaml for the greeter process.
//
// Values start from built-in defaults, are replaced by whatever the YAML file
// sets, and are finally overridden by GREETER_* environment variables. Secrets
// (the hub token, the assistant API key, broker and InfluxDB credentials) are
// meant to arrive through the environment rather than the file.
//
//	cfg, err := config.Load(path)
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.GetHubRequestTimeout()
//
// Load fails with every validation problem joined into one error.
package config
