package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// Config holds the application configuration
type Config struct {
	MigrationsDir string
	DatabaseURL   string
	Provider      string
	FailOn        string
	OutputFormat  string
}

// LoadConfig loads configuration from config files, the environment, and
// .env files, in ascending priority.
func LoadConfig() (*Config, error) {
	// Find home directory
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	// Set config file paths
	viper.SetConfigName(".preflight")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath(home)
	viper.AddConfigPath(filepath.Join(home, ".config", "preflight"))

	// Set environment variable prefix
	viper.SetEnvPrefix("PREFLIGHT")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("migrations_dir", "migrations")
	viper.SetDefault("fail_on", "unsafe")
	viper.SetDefault("output_format", "text")

	// Try to read config file (ignore if not found)
	_ = viper.ReadInConfig()

	// Load .env file if it exists
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}

	// Load .env.local if it exists (higher priority)
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}

	cfg := &Config{
		MigrationsDir: viper.GetString("migrations_dir"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Provider:      viper.GetString("provider"),
		FailOn:        viper.GetString("fail_on"),
		OutputFormat:  viper.GetString("output_format"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = viper.GetString("database_url")
	}

	return cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config) error {
	viper.Set("migrations_dir", cfg.MigrationsDir)
	viper.Set("provider", cfg.Provider)
	viper.Set("fail_on", cfg.FailOn)
	viper.Set("output_format", cfg.OutputFormat)

	home, err := homedir.Dir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(home, ".config", "preflight")
	if err := AppFs.MkdirAll(configPath, 0755); err != nil {
		return err
	}

	configFile := filepath.Join(configPath, ".preflight.yaml")
	return viper.WriteConfigAs(configFile)
}
