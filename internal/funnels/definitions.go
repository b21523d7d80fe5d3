package funnels

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// Definition is one funnel in a definitions file:
//
//	funnels:
//	  - name: Checkout
//	    status: active
//	    steps:
//	      - {type: page, name: Cart, page_id: 10}
//	      - {type: form, name: Payment, form_id: 20}
type Definition struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Status      string       `yaml:"status"`
	Steps       []StepParams `yaml:"steps"`
}

type definitionsFile struct {
	Funnels []Definition `yaml:"funnels"`
}

// ParseDefinitions reads a YAML definitions file.
func ParseDefinitions(r io.Reader) ([]Definition, error) {
	var file definitionsFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return []Definition{}, nil
		}
		return nil, fmt.Errorf("failed to parse funnel definitions: %w", err)
	}
	return file.Funnels, nil
}

// ImportResult lists what ImportDefinitions did, by funnel name.
type ImportResult struct {
	Created []string
	Skipped []string
}

// ImportDefinitions creates every defined funnel. Funnels whose name already
// exists are skipped. The first invalid definition stops the import; funnels
// created before it are kept.
func ImportDefinitions(db *gorm.DB, logger *slog.Logger, defs []Definition) (*ImportResult, error) {
	result := &ImportResult{Created: []string{}, Skipped: []string{}}

	for i, def := range defs {
		steps, err := StepInputsFromParams(def.Steps)
		if err != nil {
			return result, fmt.Errorf("funnel %d (%s): %w", i+1, def.Name, err)
		}

		_, err = CreateFunnel(db, logger, CreateFunnelInput{
			Name:        def.Name,
			Description: def.Description,
			Status:      Status(def.Status),
			Steps:       steps,
		})
		if errors.Is(err, ErrDuplicateName) {
			result.Skipped = append(result.Skipped, def.Name)
			continue
		}
		if err != nil {
			return result, fmt.Errorf("funnel %d (%s): %w", i+1, def.Name, err)
		}
		result.Created = append(result.Created, def.Name)
	}

	logger.Info("Funnel definitions imported",
		slog.Int("created", len(result.Created)),
		slog.Int("skipped", len(result.Skipped)))
	return result, nil
}
