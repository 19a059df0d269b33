package params

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Storage struct {
	// DataDir holds the pebble database and the event journal.
	DataDir string
}

type API struct {
	ListenAddr string
}

type Config struct {
	Storage  Storage
	API      API
	LogLevel string
}

func Default() Config {
	return Config{
		Storage:  Storage{DataDir: "data"},
		API:      API{ListenAddr: ":8080"},
		LogLevel: "info",
	}
}

// JournalPath is the event journal file inside the data directory.
func (c Config) JournalPath() string {
	return filepath.Join(c.Storage.DataDir, "events.log")
}

// DBPath is the pebble database directory inside the data directory.
func (c Config) DBPath() string {
	return filepath.Join(c.Storage.DataDir, "db")
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if addr := os.Getenv("API_LISTEN_ADDR"); addr != "" {
		cfg.API.ListenAddr = addr
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}

	return cfg
}
