package reference

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// DecodeYAML reads a document written directly in the Content layout.
func DecodeYAML(data []byte) (Content, error) {
	var c Content
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Content{}, fmt.Errorf("decode yaml: %w", err)
	}
	return c, nil
}
