package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config describes one evolution run. Zero seed means time based.
type Config struct {
	Evolution Evolution     `yaml:"evolution" json:"evolution"`
	Rates     Rates         `yaml:"rates" json:"rates"`
	Genome    Genome        `yaml:"genome" json:"genome"`
	Output    Output        `yaml:"output" json:"output"`
	Store     Store         `yaml:"store" json:"store"`
	Metrics   MetricsConfig `yaml:"metrics" json:"metrics"`
}

type Evolution struct {
	Task        string `yaml:"task" json:"task"`
	Population  int    `yaml:"population" json:"population"`
	Generations int    `yaml:"generations" json:"generations"`
	Workers     int    `yaml:"workers" json:"workers"`
	Seed        int64  `yaml:"seed" json:"seed"`
}

type Rates struct {
	Mutation    float64 `yaml:"mutation" json:"mutation"`
	Duplication float64 `yaml:"duplication" json:"duplication"`
	Deletion    float64 `yaml:"deletion" json:"deletion"`
	// SeedMutation is applied once when the initial population is copied
	// from the seed genome.
	SeedMutation float64 `yaml:"seed_mutation" json:"seed_mutation"`
}

type Genome struct {
	Length int `yaml:"length" json:"length"`
	// SeedPath loads the seed genome from a file instead of generating one.
	SeedPath        string `yaml:"seed_path" json:"seed_path,omitempty"`
	SeedHasID       bool   `yaml:"seed_has_id" json:"seed_has_id"`
	Probabilistic   bool   `yaml:"probabilistic_gates" json:"probabilistic_gates"`
	IdentityNodeMap bool   `yaml:"identity_node_map" json:"identity_node_map"`
}

type Output struct {
	Dir             string `yaml:"dir" json:"dir"`
	CheckpointEvery int    `yaml:"checkpoint_every" json:"checkpoint_every"`
	LogEvery        int    `yaml:"log_every" json:"log_every"`
	// TaskOutput names a file receiving the per-agent task lines.
	TaskOutput string `yaml:"task_output" json:"task_output,omitempty"`
}

type Store struct {
	Kind string `yaml:"kind" json:"kind"`
	Path string `yaml:"path" json:"path,omitempty"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr,omitempty"`
}

func Default() Config {
	return Config{
		Evolution: Evolution{
			Task:        "simon",
			Population:  100,
			Generations: 252,
			Workers:     1,
		},
		Rates: Rates{
			Mutation:     0.005,
			Duplication:  0.05,
			Deletion:     0.02,
			SeedMutation: 0.01,
		},
		Genome: Genome{Length: 5000},
		Output: Output{
			Dir:             "out",
			CheckpointEvery: 25,
			LogEvery:        10,
		},
		Store: Store{Kind: "memory"},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Evolution.Task) == "" {
		errs = append(errs, errors.New("evolution.task is required"))
	}
	if c.Evolution.Population <= 0 {
		errs = append(errs, errors.New("evolution.population must be > 0"))
	}
	if c.Evolution.Generations <= 0 {
		errs = append(errs, errors.New("evolution.generations must be > 0"))
	}
	if c.Evolution.Workers < 0 {
		errs = append(errs, errors.New("evolution.workers must be >= 0"))
	}
	for name, rate := range map[string]float64{
		"rates.mutation":      c.Rates.Mutation,
		"rates.duplication":   c.Rates.Duplication,
		"rates.deletion":      c.Rates.Deletion,
		"rates.seed_mutation": c.Rates.SeedMutation,
	} {
		if rate < 0 || rate > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1]", name))
		}
	}
	if c.Genome.SeedPath == "" && c.Genome.Length <= 0 {
		errs = append(errs, errors.New("genome.length must be > 0 without genome.seed_path"))
	}
	if c.Output.CheckpointEvery < 0 {
		errs = append(errs, errors.New("output.checkpoint_every must be >= 0"))
	}
	if c.Output.LogEvery < 0 {
		errs = append(errs, errors.New("output.log_every must be >= 0"))
	}
	switch c.Store.Kind {
	case "", "memory", "badger", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.kind %q is not one of memory, badger, sqlite", c.Store.Kind))
	}
	return errors.Join(errs...)
}
