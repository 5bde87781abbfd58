package coll

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the environment prefix read by LoadConfig.
const EnvPrefix = "UCG"

const (
	defaultPriority  = 90
	defaultVerbose   = 2
	defaultCacheSize = 10
	defaultNPolls    = 10
	maxNPolls        = 100
)

// Config controls Open behaviour for the collective component.
type Config struct {
	// Priority is reported by Query when the component accepts a communicator.
	Priority int `envconfig:"PRIORITY" default:"90"`
	// Verbose selects the NewLogger level: 0 error, 1 warn, 2 info, 3+ debug.
	Verbose int `envconfig:"VERBOSE" default:"2"`
	// MaxCacheSize bounds the request cache. Zero disables caching.
	MaxCacheSize int `envconfig:"MAX_RCACHE_SIZE" default:"10"`
	// DisableColl is a comma separated deny-list of collective names.
	DisableColl string `envconfig:"DISABLE_COLL"`
	// NPolls is the number of idle polls between progress pump calls.
	NPolls int `envconfig:"NPOLLS" default:"10"`
	// PoolMax caps the request pool. Zero means unlimited.
	PoolMax int `envconfig:"POOL_MAX" default:"0"`

	Logger           Logger           `ignored:"true"`
	StructuredLogger StructuredLogger `ignored:"true"`
	Tracer           Tracer           `ignored:"true"`
	Metrics          MetricHook       `ignored:"true"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Priority:     defaultPriority,
		Verbose:      defaultVerbose,
		MaxCacheSize: defaultCacheSize,
		NPolls:       defaultNPolls,
	}
}

// LoadConfig reads the configuration from environment variables under prefix.
// An empty prefix selects EnvPrefix.
func LoadConfig(prefix string) (Config, error) {
	if prefix == "" {
		prefix = EnvPrefix
	}
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("ucg coll: load config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFiles loads dotenv files into the process environment, without
// overriding variables already set, then calls LoadConfig.
func LoadConfigFiles(prefix string, files ...string) (Config, error) {
	if len(files) > 0 {
		if err := godotenv.Load(files...); err != nil {
			return Config{}, fmt.Errorf("ucg coll: load env files: %w", err)
		}
	}
	return LoadConfig(prefix)
}

// collName is the canonical name of one of the seven collectives.
type collName string

const (
	collBcast      collName = "bcast"
	collBarrier    collName = "barrier"
	collAllreduce  collName = "allreduce"
	collAlltoallv  collName = "alltoallv"
	collScatterv   collName = "scatterv"
	collGatherv    collName = "gatherv"
	collAllgatherv collName = "allgatherv"
)

var collNames = []collName{
	collBcast, collBarrier, collAllreduce, collAlltoallv, collScatterv, collGatherv, collAllgatherv,
}

// settings is the normalized form of Config held by an open component.
type settings struct {
	priority  int
	cacheSize int
	npolls    int
	poolMax   int
	disabled  map[collName]bool
	// warnings collected while normalizing, logged once the logger is wired.
	warnings []string
}

func (cfg Config) normalize() settings {
	s := settings{
		priority:  cfg.Priority,
		cacheSize: cfg.MaxCacheSize,
		npolls:    cfg.NPolls,
		poolMax:   cfg.PoolMax,
		disabled:  make(map[collName]bool),
	}
	if s.cacheSize < 0 {
		s.warnings = append(s.warnings, fmt.Sprintf("max_rcache_size %d is negative, caching disabled", s.cacheSize))
		s.cacheSize = 0
	}
	if s.npolls < 1 || s.npolls > maxNPolls {
		s.warnings = append(s.warnings, fmt.Sprintf("npolls %d outside [1, %d], using %d", s.npolls, maxNPolls, defaultNPolls))
		s.npolls = defaultNPolls
	}
	if s.poolMax < 0 {
		s.poolMax = 0
	}
	for _, raw := range strings.Split(cfg.DisableColl, ",") {
		name := collName(strings.ToLower(strings.TrimSpace(raw)))
		if name == "" {
			continue
		}
		if !knownColl(name) {
			s.warnings = append(s.warnings, fmt.Sprintf("disable_coll: unknown collective %q", name))
			continue
		}
		s.disabled[name] = true
	}
	return s
}

func knownColl(name collName) bool {
	for _, n := range collNames {
		if n == name {
			return true
		}
	}
	return false
}
