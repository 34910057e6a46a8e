package main

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds settings from the .env file, the environment and flags,
// in increasing precedence.
type Config struct {
	Port        string
	DBPath      string
	JWTSecret   string
	APIURL      string
	APIToken    string
	Rollback    bool
	HTTPTimeout time.Duration
}

// flag name -> config key
var flagKeys = map[string]string{
	"port":     "port",
	"db":       "db_path",
	"api-url":  "api_url",
	"token":    "api_token",
	"rollback": "reconcile_rollback",
	"timeout":  "http_timeout",
}

// LoadConfig reads envFile in dotenv format when present. A missing
// file is not an error.
func LoadConfig(envFile string, cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	v.SetDefault("port", "3001")
	v.SetDefault("db_path", "./boardsync.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("api_url", "http://localhost:3001")
	v.SetDefault("api_token", "")
	v.SetDefault("reconcile_rollback", true)
	v.SetDefault("http_timeout", "0s")
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("reading %s: %w", envFile, err)
			}
		}
	}

	if cmd != nil {
		for name, key := range flagKeys {
			if f := cmd.Flags().Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding --%s: %w", name, err)
				}
			}
		}
	}

	return &Config{
		Port:        v.GetString("port"),
		DBPath:      v.GetString("db_path"),
		JWTSecret:   v.GetString("jwt_secret"),
		APIURL:      v.GetString("api_url"),
		APIToken:    v.GetString("api_token"),
		Rollback:    v.GetBool("reconcile_rollback"),
		HTTPTimeout: v.GetDuration("http_timeout"),
	}, nil
}
