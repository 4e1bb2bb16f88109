// Package loader reads a GraphDescription from a YAML or JSON file on
// disk: a single unified entry point that reads the file, detects its
// encoding, and unmarshals it into the engine's wire format.
package loader

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/nodeflow/catalog"
	"github.com/petal-labs/nodeflow/core"
)

// LoadGraph reads path (YAML or JSON, detected by extension) and decodes it
// into a core.GraphDescription. It does not validate node types against a
// catalog; call ValidateAgainstCatalog for that.
func LoadGraph(path string) (core.GraphDescription, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path supplied by the CLI operator
	if err != nil {
		return core.GraphDescription{}, fmt.Errorf("reading file %s: %w", path, err)
	}

	var gd core.GraphDescription
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &gd); err != nil {
			return core.GraphDescription{}, fmt.Errorf("parsing %s as YAML: %w", path, err)
		}
		return gd, nil
	}
	if err := json.Unmarshal(data, &gd); err != nil {
		return core.GraphDescription{}, fmt.Errorf("parsing %s as JSON: %w", path, err)
	}
	return gd, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// ValidateAgainstCatalog checks that every node descriptor's Type is
// registered in cat, returning a single aggregated error naming every
// unknown type found (the executor itself performs the authoritative
// per-node check at construction time; this is an earlier, friendlier CLI
// diagnostic).
func ValidateAgainstCatalog(gd core.GraphDescription, cat *catalog.Catalog) error {
	var unknown []string
	seen := make(map[string]bool)
	for _, nd := range gd.Nodes {
		if cat.Has(nd.Type) || seen[nd.Type] {
			continue
		}
		seen[nd.Type] = true
		unknown = append(unknown, nd.Type)
	}
	if len(unknown) == 0 {
		return nil
	}
	return fmt.Errorf("unknown node type(s): %s", strings.Join(unknown, ", "))
}
