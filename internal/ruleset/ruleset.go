// Package ruleset loads the game rule configuration from embedded
// defaults plus an optional override directory of YAML files.
package ruleset

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultFiles embed.FS

// ShipClass is one fleet manifest entry.
type ShipClass struct {
	Name   string `yaml:"name"`
	Length int    `yaml:"length"`
}

// Ruleset is the full rule configuration for new matches.
type Ruleset struct {
	BoardSize int         `yaml:"board_size"`
	Fleet     []ShipClass `yaml:"fleet"`

	NoTouch bool `yaml:"no_touch"`

	ExtraTurnOnHit       bool `yaml:"extra_turn_on_hit"`
	RevealAdjacentOnSink bool `yaml:"reveal_adjacent_on_sink"`
}

// Load reads the embedded defaults and then applies overrides from
// dir if provided. Override files are applied in name order; later
// files win.
func Load(overrideDir string) (*Ruleset, error) {
	raw, err := fs.ReadFile(defaultFiles, "default.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded ruleset: %w", err)
	}
	rs := &Ruleset{}
	if err := yaml.Unmarshal(raw, rs); err != nil {
		return nil, fmt.Errorf("parse embedded ruleset: %w", err)
	}

	if strings.TrimSpace(overrideDir) != "" {
		if err := rs.applyDir(overrideDir); err != nil {
			return nil, err
		}
	}
	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func (r *Ruleset) applyDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read ruleset dir: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, name := range files {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if err := yaml.Unmarshal(b, r); err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return nil
}

func (r *Ruleset) validate() error {
	if r.BoardSize < 2 {
		return fmt.Errorf("board_size %d too small", r.BoardSize)
	}
	if len(r.Fleet) == 0 {
		return fmt.Errorf("fleet manifest is empty")
	}
	for _, s := range r.Fleet {
		if s.Length < 1 || s.Length > r.BoardSize {
			return fmt.Errorf("ship %q length %d does not fit board size %d", s.Name, s.Length, r.BoardSize)
		}
	}
	return nil
}

// Lengths returns the manifest as the multiset of ship lengths.
func (r *Ruleset) Lengths() []int {
	out := make([]int, 0, len(r.Fleet))
	for _, s := range r.Fleet {
		out = append(out, s.Length)
	}
	return out
}
