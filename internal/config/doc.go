// Package config provides configuration management for grantflow.
//
// Configuration is loaded from environment variables using the env package.
// Everything except the LLM key has a default suitable for development.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
