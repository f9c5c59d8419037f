package cli

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadTaskFile читает начальное состояние задачи из YAML или JSON файла
func LoadTaskFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file: %w", err)
	}
	return ParseTask(data)
}

// ParseTask разбирает состояние задачи. JSON является подмножеством YAML.
func ParseTask(data []byte) (map[string]any, error) {
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to parse task: %w", err)
	}
	if tree == nil {
		tree = make(map[string]any)
	}
	return tree, nil
}
