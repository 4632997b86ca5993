package params

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Preset is one row of the [latency] TOML table: a named tuning whose GOP
// replaces a client's requested GOP only when that GOP is zero. A request
// that omits gop carries the default of 30, which the preset leaves as is.
type Preset struct {
	GOP int `toml:"gop"`
}

// Table maps a latency name to its preset. "zerolatency" is deliberately
// absent: it is a computed rewrite (see ApplyLatencyPreset), not a stored
// row, matching the original implementation's if-chain behavior.
type Table map[Latency]Preset

// DefaultTable mirrors the three named presets the original hardcoded.
func DefaultTable() Table {
	return Table{
		LatencyView:  {GOP: 60},
		LatencyLow:   {GOP: 30},
		LatencyUltra: {GOP: 15},
	}
}

type rawFile struct {
	Latency map[string]Preset `toml:"latency"`
}

// LoadTable reads a [latency] TOML table from path, falling back to
// DefaultTable for any preset name the file doesn't override.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return table, nil
		}
		return nil, fmt.Errorf("read latency config %s: %w", path, err)
	}

	var raw rawFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse latency config %s: %w", path, err)
	}

	for name, preset := range raw.Latency {
		table[Latency(name)] = preset
	}
	return table, nil
}
