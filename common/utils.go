package common

import (
	"errors"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
)

const EnvFile = "tauphi.env"

// LoadEnv applies metaDir/tauphi.env to the process environment and returns
// the names it set, sorted. Variables already present in the environment
// win over the file. A missing file is not an error.
func LoadEnv(metaDir string) ([]string, error) {
	envPath := filepath.Join(metaDir, EnvFile)

	values, err := godotenv.Read(envPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	applied := []string{}
	for name, value := range values {
		if _, isExist := os.LookupEnv(name); isExist {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return nil, err
		}
		applied = append(applied, name)
	}
	sort.Strings(applied)
	return applied, nil
}
