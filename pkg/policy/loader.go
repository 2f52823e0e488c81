package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of the policy configuration
type policyFile struct {
	Resources []ResourceConfig `yaml:"resources"`
}

// Load reads and validates a policy table from a YAML file. Any malformed,
// duplicate, or unknown entry is an error; the process must not start with a
// partial table.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}
	return Parse(data)
}

// Parse builds a policy table from YAML bytes
func Parse(data []byte) (*Table, error) {
	var file policyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if len(file.Resources) == 0 {
		return nil, fmt.Errorf("policy file declares no resources")
	}
	table, err := NewTable(file.Resources)
	if err != nil {
		return nil, fmt.Errorf("invalid policy table: %w", err)
	}
	return table, nil
}
