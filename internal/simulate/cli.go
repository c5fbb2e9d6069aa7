package simulate

import (
	"io"
	"os"

	"github.com/spf13/pflag"
)

// tokenEnv supplies the default bearer token, matching the server's setting.
const tokenEnv = "KICKER_API_TOKEN"

// ParseFlags reads a Config from command line arguments. It returns
// pflag.ErrHelp after printing usage for -h/--help.
func ParseFlags(args []string, output io.Writer) (*Config, error) {
	cfg := &Config{}
	fs := pflag.NewFlagSet("simulate", pflag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() {
		_, _ = io.WriteString(output, usageHeader)
		fs.PrintDefaults()
	}

	fs.StringVarP(&cfg.BaseURL, "url", "u", DefaultBaseURL, "Base URL of the service")
	fs.StringVar(&cfg.Token, "token", os.Getenv(tokenEnv), "Bearer token for mutating routes (default $"+tokenEnv+")")
	fs.IntVarP(&cfg.Players, "players", "p", DefaultPlayers, "Number of players to register")
	fs.IntVarP(&cfg.Matches, "matches", "m", DefaultMatches, "Number of matches to submit")
	fs.IntVarP(&cfg.Workers, "workers", "w", DefaultWorkers, "Number of concurrent submitters")
	fs.Float64Var(&cfg.Replays, "replays", DefaultReplays, "Fraction of submissions sent twice to exercise idempotency")
	fs.Float64Var(&cfg.DrawRate, "draws", DefaultDrawRate, "Probability that a simulated match is a draw")
	fs.DurationVar(&cfg.Timeout, "timeout", DefaultTimeout, "HTTP request timeout")
	fs.Uint64Var(&cfg.Seed, "seed", 0, "Generator seed (0 picks a random one)")
	fs.IntVar(&cfg.Top, "top", DefaultTop, "Number of standings to report")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log every submission")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const usageHeader = `Kicker match simulator

Registers fresh players on a running kicker server, submits random 2v2
matches concurrently and verifies the resulting ledger.

Usage:
  simulate [options]

Options:
`
