// Package minerconfig resolves miner.Options from flags, environment
// variables, and an optional config file, with precedence flags > env >
// file > defaults. It follows the teacher's config.go
// NetworkConfig/DefaultNetworkConfig shape, but layered on
// github.com/spf13/viper and github.com/spf13/pflag the way
// xyplex3-RedTeamCoin's config package does it, since the teacher's own
// flag-and-struct-literal approach has no file/env story to generalize
// from.
package minerconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/fakecoinbase/PttnslashrieMiner/constellation"
	"github.com/fakecoinbase/PttnslashrieMiner/miner"
)

// Default values, named the way the teacher names its DefaultXConfig
// constants.
const (
	DefaultThreads         = 4
	DefaultSieveWorkers    = 1
	DefaultSieveBits       = 25
	DefaultPrimeTableLimit = 1 << 24
	DefaultPrimorialNumber = 9
	DefaultPattern         = "sextuplet"
	DefaultMode            = "solo"
	DefaultTupleLengthMin  = 4
	DefaultMaxIncrements   = 1 << 29
	DefaultCacheDir        = ".riecoin-miner-cache"
	DefaultStatsInterval   = 30 * time.Second
	DefaultPoolTransport   = "tcp"
)

// Config is the fully-resolved, validated configuration for
// cmd/riecoin-miner: miner.Options plus the knobs that belong to the CLI
// binary rather than to the mining core itself (node/pool address,
// wallet file, transport choice, stats cadence).
type Config struct {
	Threads          int      `mapstructure:"threads"`
	SieveWorkers     int      `mapstructure:"sieve_workers"`
	SieveBits        uint     `mapstructure:"sieve_bits"`
	PrimeTableLimit  uint64   `mapstructure:"prime_table_limit"`
	PrimorialNumber  int      `mapstructure:"primorial_number"`
	PrimorialOffsets []uint64 `mapstructure:"primorial_offsets"`
	Pattern          string   `mapstructure:"pattern"`
	Mode             string   `mapstructure:"mode"`
	TupleLengthMin   int      `mapstructure:"tuple_length_min"`
	EnableAVX2       bool     `mapstructure:"enable_avx2"`
	MaxIncrements    uint64   `mapstructure:"max_increments"`
	CacheDir         string   `mapstructure:"cache_dir"`
	TuplesFile       string   `mapstructure:"tuples_file"`

	NodeAddress   string        `mapstructure:"node_address"`
	PoolAddress   string        `mapstructure:"pool_address"`
	WalletAddress string        `mapstructure:"wallet_address"`
	PoolTransport string        `mapstructure:"pool_transport"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// Flags registers the CLI's pflag.FlagSet. Call this from main before
// pflag.Parse, then pass the same set to Load.
func Flags(fs *pflag.FlagSet) {
	fs.Int("threads", DefaultThreads, "number of worker goroutines")
	fs.Int("sieve-workers", DefaultSieveWorkers, "number of parallel sieve instances (one primorial offset each)")
	fs.Uint("sieve-bits", DefaultSieveBits, "log2 of each sieve segment's bit width")
	fs.Uint64("prime-table-limit", DefaultPrimeTableLimit, "largest prime considered for the wheel/sieve table")
	fs.Int("primorial-number", DefaultPrimorialNumber, "count of smallest primes folded into the primorial")
	fs.StringSlice("primorial-offsets", nil, "comma-separated primorial-residue offset per sieve worker")
	fs.String("pattern", DefaultPattern, "constellation pattern name (see constellation.Registry)")
	fs.String("mode", DefaultMode, "solo, pool, or benchmark")
	fs.Int("tuple-length-min", DefaultTupleLengthMin, "minimum tuple length to submit in solo mode")
	fs.Bool("enable-avx2", true, "allow AVX2-sized batches when the CPU supports them")
	fs.Uint64("max-increments", DefaultMaxIncrements, "candidate indices sieved per block and sieve worker (split into sieve segments)")
	fs.String("cache-dir", DefaultCacheDir, "directory for the persisted prime/primorial table cache")
	fs.String("tuples-file", "", "benchmark mode: path to log every qualifying tuple's base")
	fs.String("node-address", "http://127.0.0.1:8001", "solo mode: node HTTP API base URL")
	fs.String("pool-address", "", "pool mode: pool TCP/WS address")
	fs.String("wallet-address", "", "payout address reported to the node/pool")
	fs.String("pool-transport", DefaultPoolTransport, "pool mode transport: tcp or ws")
	fs.Duration("stats-interval", DefaultStatsInterval, "interval between printed stats snapshots")
	fs.String("config", "", "path to an optional config file (yaml/toml/json)")
}

// Load resolves a Config from the parsed flag set, RM_MINER_*
// environment variables, and an optional config file, in that
// precedence order, then validates it. It does not watch the config
// file; Watch installs that on the returned *viper.Viper.
func Load(fs *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(v, fs); err != nil {
		return nil, nil, fmt.Errorf("minerconfig: binding flags: %w", err)
	}

	v.SetEnvPrefix("RM_MINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path, _ := fs.GetString("config"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("riecoin-miner")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.riecoin-miner")
		v.AddConfigPath("/etc/riecoin-miner")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("minerconfig: reading config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("minerconfig: invalid configuration: %w", err)
	}
	return cfg, v, nil
}

// bindFlags binds each pflag to its mapstructure key explicitly, since
// viper.BindPFlags registers a flag under its literal (hyphenated) CLI
// name, which would never match the underscored struct tags Unmarshal
// looks for.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	pairs := map[string]string{
		"threads":            "threads",
		"sieve-workers":      "sieve_workers",
		"sieve-bits":         "sieve_bits",
		"prime-table-limit":  "prime_table_limit",
		"primorial-number":   "primorial_number",
		"primorial-offsets":  "primorial_offsets",
		"pattern":            "pattern",
		"mode":               "mode",
		"tuple-length-min":   "tuple_length_min",
		"enable-avx2":        "enable_avx2",
		"max-increments":     "max_increments",
		"cache-dir":          "cache_dir",
		"tuples-file":        "tuples_file",
		"node-address":       "node_address",
		"pool-address":       "pool_address",
		"wallet-address":     "wallet_address",
		"pool-transport":     "pool_transport",
		"stats-interval":     "stats_interval",
	}
	for flagName, key := range pairs {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return fmt.Errorf("binding --%s: %w", flagName, err)
		}
	}
	return nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("minerconfig: unmarshaling: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("threads", DefaultThreads)
	v.SetDefault("sieve_workers", DefaultSieveWorkers)
	v.SetDefault("sieve_bits", DefaultSieveBits)
	v.SetDefault("prime_table_limit", DefaultPrimeTableLimit)
	v.SetDefault("primorial_number", DefaultPrimorialNumber)
	v.SetDefault("pattern", DefaultPattern)
	v.SetDefault("mode", DefaultMode)
	v.SetDefault("tuple_length_min", DefaultTupleLengthMin)
	v.SetDefault("enable_avx2", true)
	v.SetDefault("max_increments", DefaultMaxIncrements)
	v.SetDefault("cache_dir", DefaultCacheDir)
	v.SetDefault("pool_transport", DefaultPoolTransport)
	v.SetDefault("stats_interval", DefaultStatsInterval)
}

// Watch starts viper's config-file watch and, on every change, passes
// the re-decoded Config to onChange if it validates. It does not filter
// fields: which of them (if any) take effect after mining has started
// is up to onChange.
func Watch(v *viper.Viper, onChange func(*Config)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			return
		}
		if err := cfg.Validate(); err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

// Validate checks the resolved configuration for internal consistency,
// the way the teacher's DefaultXConfig-adjacent Validate methods do (see
// ClientConfig.Validate in the config package this was modeled on).
func (c *Config) Validate() error {
	if c.Threads < 1 {
		return fmt.Errorf("threads must be positive, got %d", c.Threads)
	}
	if c.SieveWorkers < 1 {
		return fmt.Errorf("sieve-workers must be positive, got %d", c.SieveWorkers)
	}
	if len(c.PrimorialOffsets) != 0 && len(c.PrimorialOffsets) != c.SieveWorkers {
		return fmt.Errorf("primorial-offsets has %d entries, want %d (one per sieve worker)", len(c.PrimorialOffsets), c.SieveWorkers)
	}
	if c.PrimorialNumber < 1 {
		return fmt.Errorf("primorial-number must be positive, got %d", c.PrimorialNumber)
	}
	if c.PrimeTableLimit == 0 {
		return fmt.Errorf("prime-table-limit must be positive")
	}
	if _, err := constellation.Lookup(c.Pattern); err != nil {
		return fmt.Errorf("pattern: %w", err)
	}
	switch c.Mode {
	case "solo", "pool", "benchmark":
	default:
		return fmt.Errorf("mode must be solo, pool, or benchmark, got %q", c.Mode)
	}
	if c.Mode == "solo" && c.NodeAddress == "" {
		return fmt.Errorf("node-address is required in solo mode")
	}
	if c.Mode == "pool" {
		if c.PoolAddress == "" {
			return fmt.Errorf("pool-address is required in pool mode")
		}
		if c.PoolTransport != "tcp" && c.PoolTransport != "ws" {
			return fmt.Errorf("pool-transport must be tcp or ws, got %q", c.PoolTransport)
		}
	}
	if c.TupleLengthMin < 2 {
		return fmt.Errorf("tuple-length-min must be at least 2, got %d", c.TupleLengthMin)
	}
	return nil
}

// MinerOptions converts the resolved CLI configuration into
// miner.Options, the boundary between the CLI's concerns (transport,
// files, cadence) and the core's.
func (c *Config) MinerOptions() (miner.Options, error) {
	pattern, err := constellation.Lookup(c.Pattern)
	if err != nil {
		return miner.Options{}, err
	}
	mode, err := c.minerMode()
	if err != nil {
		return miner.Options{}, err
	}

	offsets := c.PrimorialOffsets
	if len(offsets) == 0 {
		offsets = defaultOffsets(c.SieveWorkers)
	}

	return miner.Options{
		Threads:          c.Threads,
		SieveWorkers:     c.SieveWorkers,
		SieveBits:        c.SieveBits,
		PrimeTableLimit:  c.PrimeTableLimit,
		PrimorialNumber:  c.PrimorialNumber,
		PrimorialOffsets: offsets,
		Pattern:          pattern,
		Mode:             mode,
		TupleLengthMin:   c.TupleLengthMin,
		EnableAVX2:       c.EnableAVX2,
		TuplesFile:       c.TuplesFile,
		MaxIncrements:    c.MaxIncrements,
		CacheDir:         c.CacheDir,
	}, nil
}

func (c *Config) minerMode() (miner.Mode, error) {
	switch c.Mode {
	case "solo":
		return miner.Solo, nil
	case "pool":
		return miner.Pool, nil
	case "benchmark":
		return miner.Benchmark, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", c.Mode)
	}
}

// defaultOffsets spaces sieve workers' offsets 2 apart (97, 99, 101, ...)
// without checking them against the primorial, when the
// operator hasn't specified explicit primorial-offsets; it exists so a
// default config with sieveWorkers>1 still validates.
func defaultOffsets(n int) []uint64 {
	offsets := make([]uint64, n)
	for i := range offsets {
		offsets[i] = 97 + uint64(i)*2
	}
	return offsets
}
