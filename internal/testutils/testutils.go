package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/joho/godotenv"

	"github.com/nfrund/topicspace/internal/config"
	"github.com/nfrund/topicspace/internal/logging"
)

// ConfigForTests loads .env.test from the project root, if there is one, and
// returns the resulting configuration.
func ConfigForTests(t *testing.T) config.Provider {
	t.Helper()

	path, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(path, "go.mod")); err == nil {
			break
		}
		if path == filepath.Dir(path) {
			t.Fatalf("could not find project root with go.mod")
		}
		path = filepath.Dir(path)
	}

	env, err := godotenv.Read(filepath.Join(path, ".env.test"))
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to load .env.test file: %v", err)
	}
	for key, value := range env {
		t.Setenv(key, value)
	}

	logging.New()

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("invalid test configuration: %v", err)
	}
	return cfg
}

// SurrealConfigForTests is ConfigForTests for tests that need a running
// SurrealDB. The test is skipped when SURREAL_URL is not set.
func SurrealConfigForTests(t *testing.T) config.Provider {
	t.Helper()
	cfg := ConfigForTests(t)
	if os.Getenv("SURREAL_URL") == "" {
		t.Skip("SURREAL_URL not set; skipping SurrealDB integration test")
	}
	return cfg
}
