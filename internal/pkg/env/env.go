package env

import (
	"os"

	"github.com/gofiber/fiber/v2/log"
	"github.com/joho/godotenv"
)

var Env map[string]string

// envFiles are searched in order; the first readable file wins.
var envFiles = []string{
	".env",          // Current directory
	"../../.env",    // From cmd/voxrelay to project root
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

// SetupEnvFile loads the first .env file found into the process environment
// without overriding variables that are already set. Containers usually ship
// without a .env file, so a missing file is not an error.
func SetupEnvFile() string {
	for _, envFile := range envFiles {
		values, err := godotenv.Read(envFile)
		if err != nil {
			continue
		}
		if err := godotenv.Load(envFile); err != nil {
			log.Warnf("[Env] Could not export %s: %v", envFile, err)
		}
		Env = values
		return envFile
	}

	log.Info("[Env] No .env file found, using process environment only")
	return ""
}

func IsDev() bool {
	return GetEnv("APP_ENV", "prod") == "dev"
}
