/*
Package cmd contains the command line interface for shipwright

Copyright © 2024 Shono <code@shono.io>
*/
package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/shono-io/shipwright/pkg"
)

// Version is set at build time.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "shipwright",
	Short:         "a release pipeline for cargo projects",
	Long:          `shipwright bumps the version, builds and packages binaries for every target, publishes a release and updates the distribution channels.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("shipwright failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .shipwright.yaml in the project or $HOME)")
	rootCmd.PersistentFlags().StringP("project-dir", "C", ".", "root of the project to release")
	rootCmd.PersistentFlags().String("log-level", "info", "log level")
	rootCmd.PersistentFlags().String("log-format", "console", "log format, console or json")

	for flag, key := range map[string]string{
		"project-dir": "project_dir",
		"log-level":   "log.level",
		"log-format":  "log.format",
	} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			log.Panic().Err(err).Str("flag", flag).Msg("failed to bind flag")
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	projectDir := viper.GetString("project_dir")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(projectDir)
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".shipwright")
	}

	// credentials usually live in an untracked .env next to the project
	if err := godotenv.Load(filepath.Join(projectDir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "Unable to read .env:", err)
	}

	viper.SetEnvPrefix("SHIPWRIGHT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	pkg.SetDefaults(viper.GetViper())
	cobra.CheckErr(pkg.BindCredentials(viper.GetViper()))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging(viper.GetString("log.level"), viper.GetString("log.format"))
}

func initLogging(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

func loadConfig() (pkg.Config, error) {
	cfg, err := pkg.LoadConfig(viper.GetViper())
	if err != nil {
		return pkg.Config{}, err
	}
	log.Debug().Interface("config", cfg.Redacted()).Msg("configuration loaded")
	return cfg, nil
}
