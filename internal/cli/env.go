package cli

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// envFileVar overrides the --env flag when set, which is how container
// deployments point every subcommand at the same file.
const envFileVar = "FINNEWS_ENV_FILE"

// EnvLoader resolves which .env file to load for a subcommand.
type EnvLoader struct {
	value       *string
	defaultPath string
}

// AddEnvFlag registers an --env flag on fs and returns the loader tied
// to it.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}
	return &EnvLoader{
		value:       fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load applies the first loadable candidate (env-var override, the
// flag value, its basename, then the default path) on top of the
// current environment and returns the path used. A missing file is an
// error only when no candidate loads.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	log.SetOutput(os.Stderr)

	requested := l.defaultPath
	if l.value != nil && strings.TrimSpace(*l.value) != "" {
		requested = strings.TrimSpace(*l.value)
	}

	candidates := make([]string, 0, 4)
	if custom := strings.TrimSpace(os.Getenv(envFileVar)); custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates, requested)
	if base := filepath.Base(requested); base != "" && base != requested {
		candidates = append(candidates, base)
	}
	if requested != l.defaultPath {
		candidates = append(candidates, l.defaultPath)
	}

	for _, candidate := range candidates {
		if err := godotenv.Overload(candidate); err == nil {
			log.Printf("Loaded environment from: %s", candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("failed to load env file from %s", requested)
}
