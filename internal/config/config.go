// Copyright (c) 2025 The chainweb-mining-client-go developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config defines the mining client's CLI/config-file surface and
// the two-pass go-flags cascade (CLI -> config file -> CLI again) used to
// load it, following the convention shared across btcd-family binaries.
package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/jessevdk/go-flags"

	"github.com/kadena-community/chainweb-mining-client-go/internal/mcerr"
)

const (
	defaultConfigFilename = "chainweb-mining-client.conf"
	defaultHTTPTimeout    = 30 * time.Second
	defaultUpdateTimeout  = 150 * time.Second
	defaultRetryMax       = 10
	defaultStratumAddr    = ":1917"
)

// WorkerType selects which solver backend the orchestrator runs.
type WorkerType string

const (
	WorkerCPU           WorkerType = "cpu"
	WorkerExternal      WorkerType = "external"
	WorkerStratum       WorkerType = "stratum"
	WorkerSimulation    WorkerType = "simulation"
	WorkerConstantDelay WorkerType = "constant-delay"
	WorkerOnDemand      WorkerType = "on-demand"
	WorkerGPU           WorkerType = "gpu"
)

func validWorkerTypes() []WorkerType {
	return []WorkerType{WorkerCPU, WorkerExternal, WorkerStratum, WorkerSimulation, WorkerConstantDelay, WorkerOnDemand, WorkerGPU}
}

// DifficultyMode mirrors internal/stratum.DifficultyMode as a string the
// CLI can parse without internal/config depending on internal/stratum.
type DifficultyMode string

const (
	DifficultyBlock    DifficultyMode = "block"
	DifficultyFixed    DifficultyMode = "fixed"
	DifficultyAdaptive DifficultyMode = "adaptive"
)

// StratumDifficulty is the parsed form of the `{block | fixed:L |
// adaptive:{period_ms,tolerance}}` CLI syntax from spec.md section 6.
type StratumDifficulty struct {
	Mode       DifficultyMode
	FixedLevel uint
	PeriodMS   uint
	Tolerance  float64
}

// ParseStratumDifficulty parses "block", "fixed:24", or
// "adaptive:15000,0.2" into a StratumDifficulty.
func ParseStratumDifficulty(s string) (StratumDifficulty, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == string(DifficultyBlock) {
		return StratumDifficulty{Mode: DifficultyBlock}, nil
	}

	mode, rest, hasArgs := strings.Cut(s, ":")
	switch DifficultyMode(mode) {
	case DifficultyFixed:
		if !hasArgs {
			return StratumDifficulty{}, mcerr.New(mcerr.Config, "stratum difficulty: fixed requires a level, e.g. fixed:24")
		}
		level, err := strconv.ParseUint(rest, 10, 64)
		if err != nil {
			return StratumDifficulty{}, mcerr.Wrap(mcerr.Config, err, "stratum difficulty: invalid fixed level %q", rest)
		}
		return StratumDifficulty{Mode: DifficultyFixed, FixedLevel: uint(level)}, nil

	case DifficultyAdaptive:
		if !hasArgs {
			return StratumDifficulty{}, mcerr.New(mcerr.Config, "stratum difficulty: adaptive requires period_ms,tolerance, e.g. adaptive:15000,0.2")
		}
		parts := strings.Split(rest, ",")
		if len(parts) != 2 {
			return StratumDifficulty{}, mcerr.New(mcerr.Config, "stratum difficulty: adaptive requires exactly two values, got %q", rest)
		}
		period, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return StratumDifficulty{}, mcerr.Wrap(mcerr.Config, err, "stratum difficulty: invalid period_ms %q", parts[0])
		}
		tolerance, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return StratumDifficulty{}, mcerr.Wrap(mcerr.Config, err, "stratum difficulty: invalid tolerance %q", parts[1])
		}
		return StratumDifficulty{Mode: DifficultyAdaptive, PeriodMS: uint(period), Tolerance: tolerance}, nil

	default:
		return StratumDifficulty{}, mcerr.New(mcerr.Config, "stratum difficulty: unknown mode %q, want block, fixed:L, or adaptive:period_ms,tolerance", mode)
	}
}

// Config is the full CLI/config-file surface from spec.md section 6.
type Config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`

	NodeURL   string `long:"node" description:"Base URL of the Chainweb node (required)"`
	PublicKey string `long:"public-key" description:"Miner public key (required)"`
	Account   string `long:"account" description:"Mining account; defaults to k:<public-key>"`

	Worker  string `long:"worker" description:"Solver backend: cpu|external|stratum|simulation|constant-delay|on-demand|gpu" default:"cpu"`
	Threads int    `long:"threads" description:"Worker thread count for the cpu backend; <=0 means runtime.NumCPU()"`

	ExternalCommand string   `long:"external-command" description:"Command to run for the external worker backend"`
	ExternalArgs    []string `long:"external-arg" description:"Argument to pass to --external-command (may be repeated)"`

	SimulationMeanMS         int  `long:"simulation-mean-ms" description:"Mean solve interval in milliseconds for the simulation backend" default:"1000"`
	ConstantDelayMS          int  `long:"constant-delay-ms" description:"Fixed solve delay in milliseconds for the constant-delay backend" default:"1000"`
	AllowNonCompliantSolvers bool `long:"allow-non-compliant-solvers" description:"Permit the on-demand backend's non-PoW-checked solve path"`

	LogLevel string `long:"log-level" description:"Logging level: trace|debug|info|warn|error|critical" default:"info"`
	LogDir   string `long:"log-dir" description:"Directory for rotated log files; empty disables file logging"`

	StratumBindHost   string `long:"stratum-host" description:"Stratum server bind host" default:""`
	StratumBindPort   int    `long:"stratum-port" description:"Stratum server bind port" default:"1917"`
	StratumDifficulty string `long:"stratum-difficulty" description:"Stratum difficulty mode: block | fixed:L | adaptive:period_ms,tolerance" default:"block"`

	HTTPTimeout   time.Duration `long:"http-timeout" description:"HTTP request timeout against the node" default:"30s"`
	UpdateTimeout time.Duration `long:"update-timeout" description:"Per-cycle update-stream timeout before a mine cycle restarts" default:"150s"`
	RetryMax      int           `long:"retry-max" description:"Maximum retry attempts for a transient node request" default:"10"`

	TLSUse      bool `long:"tls" description:"Not consulted; TLS is used exactly when the --node URL has an https scheme"`
	TLSInsecure bool `long:"tls-insecure" description:"Skip TLS certificate verification"`

	GenerateKey bool `short:"g" long:"generate-key" description:"Generate a new keypair and exit"`
}

// Load runs the standard two-pass cascade: parse the CLI once to locate
// -C/--configfile, parse that file as INI to seed defaults, then re-parse
// the CLI so flags override file values.
func Load(args []string) (*Config, error) {
	cfg := &Config{}

	preParser := flags.NewParser(cfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown)
	if _, err := preParser.ParseArgs(args); err != nil {
		return nil, mcerr.Wrap(mcerr.Config, err, "config: parsing command line")
	}

	if cfg.ShowVersion {
		return cfg, nil
	}

	configPath := cfg.ConfigFile
	if configPath == "" {
		configPath = defaultConfigFilename
	}
	if _, statErr := os.Stat(configPath); statErr == nil {
		iniParser := flags.NewParser(cfg, flags.Default)
		if err := flags.NewIniParser(iniParser).ParseFile(configPath); err != nil {
			return nil, mcerr.Wrap(mcerr.Config, err, "config: parsing config file %s", configPath)
		}
	} else if cfg.ConfigFile != "" {
		return nil, mcerr.Wrap(mcerr.Config, statErr, "config: config file %s not found", configPath)
	}

	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, mcerr.Wrap(mcerr.Config, err, "config: parsing command line")
	}

	if err := cfg.applyDefaultsAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaultsAndValidate() error {
	if c.ShowVersion || c.GenerateKey {
		return nil
	}
	if c.NodeURL == "" {
		return mcerr.New(mcerr.Config, "config: --node is required")
	}
	if c.PublicKey == "" {
		return mcerr.New(mcerr.Config, "config: --public-key is required")
	}
	if c.Account == "" {
		c.Account = "k:" + c.PublicKey
	}

	valid := false
	for _, w := range validWorkerTypes() {
		if WorkerType(c.Worker) == w {
			valid = true
			break
		}
	}
	if !valid {
		return mcerr.New(mcerr.Config, "config: unknown worker type %q", c.Worker)
	}
	if WorkerType(c.Worker) == WorkerExternal && c.ExternalCommand == "" {
		return mcerr.New(mcerr.Config, "config: --external-command is required for the external worker")
	}

	if _, err := ParseStratumDifficulty(c.StratumDifficulty); err != nil {
		return err
	}

	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	if c.UpdateTimeout <= 0 {
		c.UpdateTimeout = defaultUpdateTimeout
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
	return nil
}

// StratumAddr returns the host:port the Stratum server should bind, using
// the spec-default port when only a host is configured.
func (c *Config) StratumAddr() string {
	if c.StratumBindPort == 0 {
		return fmt.Sprintf("%s%s", c.StratumBindHost, defaultStratumAddr)
	}
	return fmt.Sprintf("%s:%d", c.StratumBindHost, c.StratumBindPort)
}

// LogFilePath returns the rotated log file path under LogDir, or "" if
// file logging is disabled.
func (c *Config) LogFilePath() string {
	if c.LogDir == "" {
		return ""
	}
	return filepath.Join(c.LogDir, "chainweb-mining-client.log")
}

// GenerateKeypair implements the -g/--generate-key flag. spec.md names key
// generation an external collaborator without naming a curve; this follows
// the teacher's own dependency graph and generates a secp256k1 keypair,
// returning both halves hex-encoded the way -g's fixture output is
// specified to look (a single pub/priv hex pair printed to stdout).
func GenerateKeypair() (pub, priv string, err error) {
	privKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return "", "", mcerr.Wrap(mcerr.Crypto, err, "config: generating keypair")
	}
	pubKey := privKey.PubKey()
	return hex.EncodeToString(pubKey.SerializeCompressed()), hex.EncodeToString(privKey.Serialize()), nil
}
