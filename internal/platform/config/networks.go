package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// DevelopmentNetworks run against the mock aggregator.
var DevelopmentNetworks = []string{"hardhat", "localhost"}

// Network describes where a deployment reads its price from.
type Network struct {
	Name          string `yaml:"-"`
	ChainID       int64  `yaml:"chain_id"`
	Mock          bool   `yaml:"mock"`
	FeedURL       string `yaml:"feed_url"`
	AnswerPath    string `yaml:"answer_path"`
	DecimalsPath  string `yaml:"decimals_path"`
	UpdatedAtPath string `yaml:"updated_at_path"`
	Decimals      *uint8 `yaml:"decimals"`
}

// Networks is the parsed network table.
type Networks map[string]Network

type networksFile struct {
	Networks map[string]Network `yaml:"networks"`
}

// ParseNetworks decodes a network table.
func ParseNetworks(data []byte) (Networks, error) {
	var f networksFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse networks: %w", err)
	}
	out := make(Networks, len(f.Networks))
	for name, n := range f.Networks {
		n.Name = name
		if !n.Mock && n.FeedURL == "" {
			return nil, fmt.Errorf("network %q: feed_url required unless mock", name)
		}
		if n.Decimals != nil && *n.Decimals > 18 {
			return nil, fmt.Errorf("network %q: decimals %d out of range", name, *n.Decimals)
		}
		out[name] = n
	}
	return out, nil
}

// LoadNetworks reads a network table from disk. A missing file yields an
// empty table so development networks still resolve.
func LoadNetworks(path string) (Networks, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Networks{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read networks file: %w", err)
	}
	return ParseNetworks(data)
}

// Resolve returns the named network. Development networks not listed in the
// table fall back to the mock aggregator.
func (n Networks) Resolve(name string) (Network, error) {
	if net, ok := n[name]; ok {
		return net, nil
	}
	if slices.Contains(DevelopmentNetworks, name) {
		return Network{Name: name, Mock: true}, nil
	}
	return Network{}, fmt.Errorf("unknown network %q", name)
}
