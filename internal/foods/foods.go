// Package foods reads nutrition reference data files.
package foods

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hoonseung2/aidietdiary/internal/models"
)

type file struct {
	Foods []models.FoodMetadataRow `yaml:"foods"`
}

// LoadFile reads a YAML document of the form
//
//	foods:
//	  - food_name: 돈까스
//	    calories: 452.7
//	    protein: 20.1
//	    fat: 25.3
//	    carbs: 40.2
func LoadFile(path string) ([]models.FoodMetadataRow, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rows, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// Decode parses and validates a foods document. Rows must have a name and
// non-negative nutrient values.
func Decode(r io.Reader) ([]models.FoodMetadataRow, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse foods: %w", err)
	}

	for i := range doc.Foods {
		row := &doc.Foods[i]
		row.Name = strings.TrimSpace(row.Name)
		if row.Name == "" {
			return nil, fmt.Errorf("food %d: missing food_name", i)
		}
		if row.Calories < 0 || row.Protein < 0 || row.Fat < 0 || row.Carbs < 0 {
			return nil, fmt.Errorf("food %q: negative nutrient value", row.Name)
		}
	}
	return doc.Foods, nil
}
