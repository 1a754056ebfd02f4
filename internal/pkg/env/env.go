package env

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

var Env map[string]string

// envFiles are tried in order; the first readable file wins.
var envFiles = []string{
	".env",          // Current directory
	"../../.env",    // From cmd/prounlock to project root
	"../../../.env", // Fallback for deeper nesting
}

func GetEnv(key, def string) string {
	// First check our loaded Env map
	if val, ok := Env[key]; ok {
		return val
	}
	// Fallback to OS environment variables (for Docker/tests)
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// SetupEnvFile loads the first .env file found. It returns the path that was
// loaded, or "" when none exists; containers usually inject the environment
// directly, so a missing file is not an error.
func SetupEnvFile() string {
	for _, envFile := range envFiles {
		values, err := godotenv.Read(envFile)
		if err == nil {
			Env = values
			return envFile
		}
	}
	Env = map[string]string{}
	return ""
}

// Merged returns the OS environment overlaid with the values loaded from the
// .env file, matching the lookup order of GetEnv.
func Merged() map[string]string {
	out := make(map[string]string, len(Env))
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		out[k] = v
	}
	for k, v := range Env {
		out[k] = v
	}
	return out
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
