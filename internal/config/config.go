package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTotalTime = 3600.0
	DefaultDt        = 1.0
	DefaultRTol      = 1e-6
	DefaultATol      = 1e-8
	DefaultMaxSteps  = 100000
	DefaultAddr      = ":8000"
	DefaultStream    = "cellsim-events"
)

var (
	drivers = map[string]bool{"sqlite3": true, "postgres": true, "memory": true}
	solvers = map[string]bool{"rosenbrock23": true, "rk45": true}
)

type Config struct {
	DataDir string       `mapstructure:"data_dir" yaml:"data_dir"`
	Store   StoreConfig  `mapstructure:"store" yaml:"store"`
	Server  ServerConfig `mapstructure:"server" yaml:"server"`
	Log     LogConfig    `mapstructure:"log" yaml:"log"`
	Redis   RedisConfig  `mapstructure:"redis" yaml:"redis"`
	Solver  SolverConfig `mapstructure:"solver" yaml:"solver"`
	Job     JobConfig    `mapstructure:"job" yaml:"job"`
	Network string       `mapstructure:"network" yaml:"network"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// RedisConfig enables the event stream when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
}

type SolverConfig struct {
	Name     string  `mapstructure:"name" yaml:"name"`
	RTol     float64 `mapstructure:"rtol" yaml:"rtol"`
	ATol     float64 `mapstructure:"atol" yaml:"atol"`
	MaxSteps int     `mapstructure:"max_steps" yaml:"max_steps"`
}

type JobConfig struct {
	TotalTime float64 `mapstructure:"total_time" yaml:"total_time"`
	Dt        float64 `mapstructure:"dt" yaml:"dt"`
}

func DefaultConfig() *Config {
	return &Config{
		DataDir: "data",
		Store:   StoreConfig{Driver: "sqlite3"},
		Server:  ServerConfig{Addr: DefaultAddr},
		Log:     LogConfig{Level: "info"},
		Redis:   RedisConfig{Stream: DefaultStream},
		Solver: SolverConfig{
			Name:     "rosenbrock23",
			RTol:     DefaultRTol,
			ATol:     DefaultATol,
			MaxSteps: DefaultMaxSteps,
		},
		Job:     JobConfig{TotalTime: DefaultTotalTime, Dt: DefaultDt},
		Network: "glycolysis",
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.stream", d.Redis.Stream)
	v.SetDefault("solver.name", d.Solver.Name)
	v.SetDefault("solver.rtol", d.Solver.RTol)
	v.SetDefault("solver.atol", d.Solver.ATol)
	v.SetDefault("solver.max_steps", d.Solver.MaxSteps)
	v.SetDefault("job.total_time", d.Job.TotalTime)
	v.SetDefault("job.dt", d.Job.Dt)
	v.SetDefault("network", d.Network)
}

// Load reads cellsim.yaml from path, or from the search path when path is
// empty, and applies CELLSIM_* environment overrides. A missing config file
// on the search path is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cellsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".cellsim"))
		}
	}

	v.SetEnvPrefix("cellsim")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) Validate() error {
	if !drivers[c.Store.Driver] {
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if !solvers[c.Solver.Name] {
		return fmt.Errorf("config: unknown solver %q", c.Solver.Name)
	}
	if c.Solver.RTol <= 0 || c.Solver.ATol <= 0 {
		return fmt.Errorf("config: tolerances must be positive (rtol=%g, atol=%g)", c.Solver.RTol, c.Solver.ATol)
	}
	if c.Solver.MaxSteps < 0 {
		return fmt.Errorf("config: max_steps must not be negative")
	}
	if c.Job.TotalTime <= 0 || c.Job.Dt <= 0 {
		return fmt.Errorf("config: total_time and dt must be positive (total_time=%g, dt=%g)", c.Job.TotalTime, c.Job.Dt)
	}
	return nil
}

// StoreDSN returns the configured DSN, defaulting the sqlite database into
// DataDir.
func (c *Config) StoreDSN() string {
	if c.Store.DSN != "" || c.Store.Driver != "sqlite3" {
		return c.Store.DSN
	}
	return filepath.Join(c.DataDir, "cellsim.db")
}
