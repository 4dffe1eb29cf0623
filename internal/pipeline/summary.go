package pipeline

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/hoonseung2/aidietdiary/internal/models"
)

// TrendDays is how many logged dates the trend view covers.
const TrendDays = 7

const defaultLogLimit = 20

// Summary bundles the three read-only views shown after login.
type Summary struct {
	Today models.DailySummary `json:"today"`
	Trend []models.TrendPoint `json:"trend"`
	Ratio models.MacroRatio   `json:"ratio"`
	Text  string              `json:"text"`
}

// Today sums the user's entries for the clock's current local date.
func (p *Pipeline) Today(ctx context.Context, userID string) (models.DailySummary, error) {
	summary, err := p.logs.DailySummary(ctx, userID, p.clock())
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("today summary: %w", err)
	}
	return summary, nil
}

// Trend returns calories per date for the user's last days logged dates,
// oldest first.
func (p *Pipeline) Trend(ctx context.Context, userID string, days int) ([]models.TrendPoint, error) {
	if days <= 0 {
		days = TrendDays
	}
	points, err := p.logs.RecentDailyCalories(ctx, userID, days)
	if err != nil {
		return nil, fmt.Errorf("trend: %w", err)
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	if points == nil {
		points = []models.TrendPoint{}
	}
	return points, nil
}

// Ratio splits today's macronutrient grams into percentages.
func (p *Pipeline) Ratio(ctx context.Context, userID string) (models.MacroRatio, error) {
	today, err := p.Today(ctx, userID)
	if err != nil {
		return models.MacroRatio{}, err
	}
	return MacroRatioOf(today), nil
}

// MacroRatioOf computes percentage shares; an empty day yields all zeros.
func MacroRatioOf(day models.DailySummary) models.MacroRatio {
	ratio := models.MacroRatio{Carbs: day.Carbs, Protein: day.Protein, Fat: day.Fat}
	total := day.Carbs + day.Protein + day.Fat
	if total <= 0 {
		return ratio
	}
	ratio.CarbsPercent = Round1(day.Carbs / total * 100)
	ratio.ProteinPercent = Round1(day.Protein / total * 100)
	ratio.FatPercent = Round1(day.Fat / total * 100)
	return ratio
}

// Summary computes today's totals, the trend and the macro ratio together.
func (p *Pipeline) Summary(ctx context.Context, userID string) (Summary, error) {
	today, err := p.Today(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	trend, err := p.Trend(ctx, userID, TrendDays)
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		Today: today,
		Trend: trend,
		Ratio: MacroRatioOf(today),
		Text: fmt.Sprintf("Today: %s kcal, %s g protein",
			humanize.CommafWithDigits(Round1(today.Calories), 1), humanize.CommafWithDigits(Round1(today.Protein), 1)),
	}, nil
}

// Logs lists raw entries, newest first.
func (p *Pipeline) Logs(ctx context.Context, userID, startDate, endDate string, limit int) ([]models.DietLogEntry, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	entries, err := p.logs.GetLogs(ctx, userID, startDate, endDate, limit)
	if err != nil {
		return nil, fmt.Errorf("logs: %w", err)
	}
	if entries == nil {
		entries = []models.DietLogEntry{}
	}
	return entries, nil
}
