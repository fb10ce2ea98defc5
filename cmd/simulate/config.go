package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

const (
	defaultRoundID = 1
	defaultSeed    = 0
)

// config defines the configuration options for simulate.
type config struct {
	Dir     string `short:"d" long:"dir"   description:"state directory (default: a throwaway temp dir)"`
	RoundID uint64 `short:"r" long:"round" description:"round id to register"`
	Seed    int64  `short:"s" long:"seed"  description:"board shuffle seed"`
	Debug   bool   `short:"v" long:"debug" description:"enable debug logs"`
}

// loadConfig initializes and parses the config using command line options.
func loadConfig() (*config, error) {
	// Default config.
	cfg := config{
		RoundID: defaultRoundID,
		Seed:    defaultSeed,
	}

	// Parse command line options.
	if _, err := flags.Parse(&cfg); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			_, _ = fmt.Fprintln(os.Stderr, err)
		}
		return nil, err
	}

	return &cfg, nil
}
