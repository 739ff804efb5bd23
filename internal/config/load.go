package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Load resolves the four config sources and validates the result.
// Precedence, lowest to highest: built-in defaults, .env file, process
// environment, explicit overrides. Pass envFile="" to skip file loading.
func Load(envFile string, overrides map[string]string, log *zap.Logger) (*Config, error) {
	fileValues := map[string]string{}
	if envFile != "" {
		values, err := godotenv.Read(envFile)
		if err != nil {
			log.Debug("no env file loaded", zap.String("path", envFile), zap.Error(err))
		} else {
			fileValues = values
		}
	}

	merged := Merge(Defaults(), fileValues, environMap(), overrides)
	return FromMap(merged)
}

// environMap snapshots the process environment, keeping only X402_* keys so
// unrelated variables never leak into the merged mapping.
func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "X402_") {
			continue
		}
		env[k] = v
	}
	return env
}
