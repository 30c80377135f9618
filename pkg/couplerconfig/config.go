// Package couplerconfig loads the coupler's YAML configuration file: the
// declared grids, their destinations, and the fields flowing over each
// (src, dst) pair.
package couplerconfig

import (
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tango-coupler/tango/pkg/couplererr"
)

// DestinationConfig names one peer grid this grid sends to, and the
// fields that flow over that pair.
type DestinationConfig struct {
	Name string   `koanf:"name"`
	Vars []string `koanf:"vars"`
}

// GridConfig is one entry in the grids list. Its position in the list is
// its grid id — the coupler never reorders or deduplicates this list, so
// ids agree across every process loading the same file.
type GridConfig struct {
	Name         string              `koanf:"name"`
	Destinations []DestinationConfig `koanf:"destinations"`
}

// Config is the whole coupler configuration.
type Config struct {
	Grids         []GridConfig `koanf:"grids"`
	WeightEpsilon float64      `koanf:"weight_epsilon"`
}

// GridID returns the array position of the named grid, and whether it
// was found.
func (c *Config) GridID(name string) (int, bool) {
	for i, g := range c.Grids {
		if g.Name == name {
			return i, true
		}
	}
	return 0, false
}

// Destinations returns the (dst grid name -> fields) map declared for the
// given source grid name.
func (c *Config) Destinations(gridName string) map[string][]string {
	out := make(map[string][]string)
	for _, g := range c.Grids {
		if g.Name != gridName {
			continue
		}
		for _, d := range g.Destinations {
			out[d.Name] = d.Vars
		}
	}
	return out
}

// Sources returns the (src grid name -> fields) map for every grid that
// declares gridName as a destination.
func (c *Config) Sources(gridName string) map[string][]string {
	out := make(map[string][]string)
	for _, g := range c.Grids {
		for _, d := range g.Destinations {
			if d.Name == gridName {
				out[g.Name] = append(out[g.Name], d.Vars...)
			}
		}
	}
	return out
}

// Load reads the YAML config at path, layered with TANGO_-prefixed
// environment variable overrides (TANGO_WEIGHT_EPSILON -> weight_epsilon,
// double underscore as a nesting separator for map-shaped keys).
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, couplererr.IO("", err, "loading config file %s", path)
	}

	if err := k.Load(env.Provider("TANGO_", ".", func(s string) string {
		s = strings.TrimPrefix(s, "TANGO_")
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil); err != nil {
		return nil, couplererr.Config("", "loading environment overrides: %v", err)
	}

	cfg := &Config{WeightEpsilon: 1e-12}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, couplererr.Config("", "unmarshalling config %s: %v", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Grids) == 0 {
		return couplererr.Config("", "config declares no grids")
	}
	seen := make(map[string]struct{}, len(c.Grids))
	for _, g := range c.Grids {
		if g.Name == "" {
			return couplererr.Config("", "config has a grid with an empty name")
		}
		if _, dup := seen[g.Name]; dup {
			return couplererr.Config(g.Name, "grid name %q appears more than once", g.Name)
		}
		seen[g.Name] = struct{}{}
		for _, d := range g.Destinations {
			if d.Name == "" {
				return couplererr.Config(g.Name, "destination with an empty name")
			}
			if len(d.Vars) == 0 {
				return couplererr.Config(g.Name, "destination %q declares no vars", d.Name)
			}
		}
	}
	if c.WeightEpsilon < 0 {
		return couplererr.Config("", "weight_epsilon must be >= 0 (got %v)", c.WeightEpsilon)
	}
	return nil
}

