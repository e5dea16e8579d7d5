package stream

import (
	"os"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Tuning groups the streaming constants. Zero values are replaced by the
// defaults so a partial tuning file only overrides what it names.
type Tuning struct {
	// The minimum interval between two resolved ticks. Backpressure against
	// request storms during fast camera motion.
	MinTickInterval time.Duration `yaml:"min_tick_interval"`

	// Ascending distance thresholds separating detail levels.
	LODBreakpoints []float64 `yaml:"lod_breakpoints"`

	// Margin added around tile bounds before the visibility test.
	TileMargin float64 `yaml:"tile_margin"`

	// Upper bound on resident (tile, level) keys. Least recently loaded keys
	// are evicted past it. Zero keeps the cache unbounded.
	MaxLoadedKeys int `yaml:"max_loaded_keys"`

	// Base cooldown applied to a key after a failed fetch, doubled per
	// consecutive failure.
	FetchCooldown time.Duration `yaml:"fetch_cooldown"`

	// Cap on the cooldown growth.
	MaxFetchCooldown time.Duration `yaml:"max_fetch_cooldown"`
}

func DefaultTuning() Tuning {
	return Tuning{
		MinTickInterval:  time.Millisecond * 500,
		LODBreakpoints:   DefaultLODBreakpoints,
		TileMargin:       0,
		MaxLoadedKeys:    4096,
		FetchCooldown:    time.Second,
		MaxFetchCooldown: time.Second * 30,
	}
}

// tuningFile is the YAML shape of a tuning file. Durations are expressed in
// milliseconds.
type tuningFile struct {
	MinTickIntervalMs  int       `yaml:"min_tick_interval_ms"`
	LODBreakpoints     []float64 `yaml:"lod_breakpoints"`
	TileMargin         float64   `yaml:"tile_margin"`
	MaxLoadedKeys      *int      `yaml:"max_loaded_keys"`
	FetchCooldownMs    int       `yaml:"fetch_cooldown_ms"`
	MaxFetchCooldownMs int       `yaml:"max_fetch_cooldown_ms"`
}

// LoadTuning reads a YAML tuning file and overlays it on the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()

	b, err := os.ReadFile(path)
	if err != nil {
		return t, errors.New("reading tuning file failed").
			WithTag("path", path).
			Wrap(err)
	}

	var f tuningFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return t, errors.New("decoding tuning file failed").
			WithTag("path", path).
			Wrap(err)
	}

	t.MinTickInterval = time.Duration(f.MinTickIntervalMs) * time.Millisecond
	t.LODBreakpoints = f.LODBreakpoints
	t.TileMargin = f.TileMargin
	if f.MaxLoadedKeys != nil {
		t.MaxLoadedKeys = *f.MaxLoadedKeys
	}
	t.FetchCooldown = time.Duration(f.FetchCooldownMs) * time.Millisecond
	t.MaxFetchCooldown = time.Duration(f.MaxFetchCooldownMs) * time.Millisecond

	t = t.withDefaults()
	return t, t.Validate()
}

func (t Tuning) withDefaults() Tuning {
	def := DefaultTuning()

	if t.MinTickInterval == 0 {
		t.MinTickInterval = def.MinTickInterval
	}
	if len(t.LODBreakpoints) == 0 {
		t.LODBreakpoints = def.LODBreakpoints
	}
	if t.FetchCooldown == 0 {
		t.FetchCooldown = def.FetchCooldown
	}
	if t.MaxFetchCooldown == 0 {
		t.MaxFetchCooldown = def.MaxFetchCooldown
	}
	return t
}

func (t Tuning) Validate() error {
	if t.MinTickInterval < 0 {
		return errors.New("negative min tick interval")
	}
	if t.TileMargin < 0 {
		return errors.New("negative tile margin")
	}
	if t.MaxLoadedKeys < 0 {
		return errors.New("negative loaded key cap")
	}
	if _, err := NewLODSelector(t.LODBreakpoints...); err != nil {
		return err
	}
	return nil
}
