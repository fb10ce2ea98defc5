// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (c) 2024-2026 The Hushplay developers

package server

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/hushplay/cipherpair/cluster"
	"github.com/hushplay/cipherpair/logging"
	"github.com/hushplay/cipherpair/rounds"
)

const (
	defaultDbDirName      = "db"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

// Config defines the configuration options for cipherpair.
//
// See loadConfig for further details regarding the
// configuration loading+parsing process.
type Config struct {
	CipherpairDir  string  `long:"cipherpairdir"  description:"The base directory that contains cipherpair's data, logs, configuration file, etc."`
	ConfigFile     string  `long:"configfile"     description:"Path to configuration file"                                                         short:"c"`
	DataDir        string  `long:"datadir"        description:"The directory to store cipherpair's data within."                                  short:"b"`
	DbDir          string  `long:"dbdir"          description:"The directory to store DBs within"`
	LogDir         string  `long:"logdir"         description:"Directory to log output."`
	DebugLog       bool    `long:"debuglog"       description:"Enable debug logs"`
	JSONLog        bool    `long:"jsonlog"        description:"Whether to log in JSON format"`
	MaxLogFiles    int     `long:"maxlogfiles"    description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int     `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	MetricsPort    *uint16 `long:"metrics-port"   description:"The port to expose metrics"`

	CPUProfile string `long:"cpuprofile" description:"Write CPU profile to the specified file"`
	Profile    string `long:"profile"    description:"Enable HTTP profiling on given port -- must be between 1024 and 65535"`

	Rounds  rounds.Config  `group:"Rounds"`
	Cluster cluster.Config `group:"Cluster"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	cipherpairDir := "./cipherpair"
	cacheDir, err := os.UserCacheDir()
	if err == nil {
		cipherpairDir = filepath.Join(cacheDir, "cipherpair")
	}

	return &Config{
		CipherpairDir:  cipherpairDir,
		DataDir:        filepath.Join(cipherpairDir, defaultDataDirname),
		DbDir:          filepath.Join(cipherpairDir, defaultDbDirName),
		LogDir:         filepath.Join(cipherpairDir, defaultLogDirname),
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		Rounds:         rounds.DefaultConfig(),
		Cluster:        cluster.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads config from an ini file.
// It uses the provided `cfg` as a base config and overrides it with the values
// from the config file.
func ReadConfigFile(cfg *Config) (*Config, error) {
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	logging.FromContext(context.Background()).Sugar().Debugf("reading config from %s", cfg.ConfigFile)
	if err := flags.IniParse(cfg.ConfigFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config from %v: %w", cfg.ConfigFile, err)
	}

	return cfg, nil
}

// SetupConfig expands paths and initializes filesystem.
func SetupConfig(cfg *Config) (*Config, error) {
	// If the provided cipherpair directory is not the default, we'll modify
	// the path to all of the files and directories that will live within it.
	defaultCfg := DefaultConfig()
	if cfg.CipherpairDir != defaultCfg.CipherpairDir {
		if cfg.DataDir == defaultCfg.DataDir {
			cfg.DataDir = filepath.Join(cfg.CipherpairDir, defaultDataDirname)
		}
		if cfg.LogDir == defaultCfg.LogDir {
			cfg.LogDir = filepath.Join(cfg.CipherpairDir, defaultLogDirname)
		}
		if cfg.DbDir == defaultCfg.DbDir {
			cfg.DbDir = filepath.Join(cfg.CipherpairDir, defaultDbDirName)
		}
	}

	// Create the cipherpair directory if it doesn't already exist.
	if err := os.MkdirAll(cfg.CipherpairDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", cfg.CipherpairDir, err)
	}

	// As soon as we're done parsing configuration options, ensure all paths
	// to directories and files are cleaned and expanded before attempting
	// to use them later on.
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.DbDir = cleanAndExpandPath(cfg.DbDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	return cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
