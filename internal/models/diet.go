// internal/models/diet.go
package models

import (
	"time"
)

// FoodMetadataRow is one row of the read-only nutrition reference table.
type FoodMetadataRow struct {
	ID       int64   `json:"id,omitempty" yaml:"-"`
	Name     string  `json:"food_name" yaml:"food_name"`
	Calories float64 `json:"calories" yaml:"calories"`
	Protein  float64 `json:"protein" yaml:"protein"`
	Fat      float64 `json:"fat" yaml:"fat"`
	Carbs    float64 `json:"carbs" yaml:"carbs"`
}

// Candidate is a food row matched by at least one keyword.
type Candidate struct {
	FoodMetadataRow
	Keyword string `json:"keyword"`
	Label   string `json:"label"`
}

type DietLogEntry struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	FoodName  string    `json:"food_name"`
	Calories  float64   `json:"calories"`
	Protein   float64   `json:"protein"`
	Fat       float64   `json:"fat"`
	Carbs     float64   `json:"carbs"`
	CreatedAt time.Time `json:"created_at"`
}

type DailySummary struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
	Entries  int     `json:"entries"`
}

type TrendPoint struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
}

// MacroRatio holds grams per macronutrient and each one's share of the total grams.
type MacroRatio struct {
	Carbs          float64 `json:"carbs"`
	Protein        float64 `json:"protein"`
	Fat            float64 `json:"fat"`
	CarbsPercent   float64 `json:"carbs_percent"`
	ProteinPercent float64 `json:"protein_percent"`
	FatPercent     float64 `json:"fat_percent"`
}

type User struct {
	Username     string    `json:"username"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
