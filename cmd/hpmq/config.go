package main

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds hpmq's environment-derived settings. LOG_LEVEL is read
// directly by hpmqlog.NewConfig rather than threaded through here, since
// the logging package owns its own level derivation.
type Config struct {
	Home          string
	RegistryToken string
}

// loadConfig reads configuration from the environment, loading a .env file
// first if one is present in the working directory.
func loadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Home:          getEnv("HPMQ_HOME", ""),
		RegistryToken: getEnv("HPMQ_REGISTRY_TOKEN", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
