// Package schema drives the per-entity analysis and owns the JSON contract
// of the emitted document.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// EntitiesInput is the registry dump produced in-game by the reflection
// extractor: entity ids with their implementing classes, plus the
// superclass chain of every involved class.
type EntitiesInput struct {
	Entities []InputEntity     `json:"entities"`
	Classes  map[string]string `json:"classes"` // class name -> superclass name
}

type InputEntity struct {
	ID           string `json:"id"`
	Class        string `json:"class"` // dotted Java name, a.b.C
	Experimental bool   `json:"experimental,omitempty"`
}

func ReadEntitiesInput(path string) (*EntitiesInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read entity list: %w", err)
	}
	var input EntitiesInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("invalid entity list %s: %w", path, err)
	}
	return &input, nil
}
