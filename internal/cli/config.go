package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. OFFLINEKIT_API_URL.
const EnvPrefix = "OFFLINEKIT"

// Settings is the resolved CLI configuration. Flags win over environment
// variables, which win over the config file.
type Settings struct {
	APIURL        string
	Token         string
	DBPath        string
	PostgresDSN   string
	TableName     string
	MetricsAddr   string
	EngineConfig  string
	Timeout       time.Duration
	ProbeInterval time.Duration
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "offlinekit.db"
	}
	return filepath.Join(home, ".offlinekit", "offlinekit.db")
}

// loadSettings reads .env, the optional config file, OFFLINEKIT_* variables
// and the command's flags into Settings.
func loadSettings(cmd *cobra.Command, opts *RootOptions) (*Settings, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("api-url", "http://localhost:8001/api")
	v.SetDefault("db", defaultDBPath())
	v.SetDefault("table", "kv_store")
	v.SetDefault("timeout", 30*time.Second)
	v.SetDefault("probe-interval", 30*time.Second)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".offlinekit"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("offlinekit")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	s := &Settings{
		APIURL:        v.GetString("api-url"),
		Token:         v.GetString("token"),
		DBPath:        v.GetString("db"),
		PostgresDSN:   v.GetString("postgres-dsn"),
		TableName:     v.GetString("table"),
		MetricsAddr:   v.GetString("metrics-addr"),
		EngineConfig:  v.GetString("engine-config"),
		Timeout:       v.GetDuration("timeout"),
		ProbeInterval: v.GetDuration("probe-interval"),
	}
	if s.APIURL == "" {
		return nil, fmt.Errorf("api-url must not be empty")
	}
	return s, nil
}
