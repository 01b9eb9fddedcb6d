// Package categories maps payment-method hashes to the platform names shown in reports.
package categories

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultTable []byte

// Category is one platform and the hashes that identify it.
type Category struct {
	Name string   `yaml:"name"`
	Keys []string `yaml:"keys"`
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// Table is a static key to category mapping. Several keys may share a name.
type Table struct {
	byKey map[common.Hash]string
	names []string
}

// Default returns the embedded production table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a table from path, or the default table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	bz, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category table: %w", err)
	}
	return Parse(bz)
}

// Parse decodes a yaml table. A key listed under two different names is rejected.
func Parse(bz []byte) (*Table, error) {
	var f file
	if err := yaml.Unmarshal(bz, &f); err != nil {
		return nil, fmt.Errorf("parse category table: %w", err)
	}
	return New(f.Categories)
}

// New builds a table from categories.
func New(categories []Category) (*Table, error) {
	t := &Table{byKey: map[common.Hash]string{}}
	seen := map[string]bool{}
	for _, c := range categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("category with keys %v has no name", c.Keys)
		}
		for _, raw := range c.Keys {
			bz, err := hexutil.Decode(strings.TrimSpace(raw))
			if err != nil || len(bz) != common.HashLength {
				return nil, fmt.Errorf("category %s: invalid key %q", name, raw)
			}
			key := common.BytesToHash(bz)
			if prev, ok := t.byKey[key]; ok && prev != name {
				return nil, fmt.Errorf("key %s maps to both %s and %s", key.Hex(), prev, name)
			}
			t.byKey[key] = name
		}
		if !seen[name] {
			seen[name] = true
			t.names = append(t.names, name)
		}
	}
	sort.Strings(t.names)
	return t, nil
}

// Resolve returns the category of key.
func (t *Table) Resolve(key common.Hash) (string, bool) {
	name, ok := t.byKey[key]
	return name, ok
}

// Names returns the distinct category names in ascending order.
func (t *Table) Names() []string {
	return append([]string(nil), t.names...)
}

// Len is the number of known keys.
func (t *Table) Len() int { return len(t.byKey) }
