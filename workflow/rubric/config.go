package rubric

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v2"
)

// definitionsFile is the on-disk shape rubric definitions are authored in:
//
//	rubrics:
//	  - id: draft-quality
//	    passThreshold: 75
//	    criteria:
//	      - name: clarity
//	        weight: 2
//	        description: the draft reads clearly and is free of jargon
type definitionsFile struct {
	Rubrics []Definition `yaml:"rubrics"`
}

// LoadDefinitions reads a YAML file of rubric definitions from path.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rubric: reading %s: %w", path, err)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions unmarshals YAML rubric definitions from raw bytes,
// validating that every entry has an ID and at least one criterion.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var f definitionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("rubric: parsing definitions: %w", err)
	}
	for i, d := range f.Rubrics {
		if d.ID == "" {
			return nil, fmt.Errorf("rubric: definition at index %d has no id", i)
		}
		if len(d.Criteria) == 0 {
			return nil, fmt.Errorf("rubric: definition %q has no criteria", d.ID)
		}
	}
	return f.Rubrics, nil
}
