// Package pipeline runs one photo through recognition, keyword parsing and
// candidate lookup, and commits the user's pick to the diet log.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hoonseung2/aidietdiary/internal/keywords"
	"github.com/hoonseung2/aidietdiary/internal/models"
	"github.com/hoonseung2/aidietdiary/internal/recognition"
	"github.com/hoonseung2/aidietdiary/internal/session"
)

// CandidatesPerKeyword caps the rows fetched for a single keyword.
const CandidatesPerKeyword = 5

var (
	ErrRecognition      = errors.New("recognition failed")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyImage       = errors.New("empty image")
	ErrNoCandidates     = errors.New("no candidates to choose from")
	ErrInvalidSelection = errors.New("selection out of range")
)

// FoodFinder searches the food metadata table by substring.
type FoodFinder interface {
	FindFoods(ctx context.Context, keyword string, limit int) ([]models.FoodMetadataRow, error)
}

// LogStore is the per-user diet log.
type LogStore interface {
	SaveLog(ctx context.Context, entry *models.DietLogEntry) error
	DailySummary(ctx context.Context, userID string, day time.Time) (models.DailySummary, error)
	RecentDailyCalories(ctx context.Context, userID string, days int) ([]models.TrendPoint, error)
	GetLogs(ctx context.Context, userID, startDate, endDate string, limit int) ([]models.DietLogEntry, error)
}

// Deps wires the pipeline's collaborators.
type Deps struct {
	Recognizer recognition.Recognizer
	Foods      FoodFinder
	Logs       LogStore
	Logger     *slog.Logger
	Clock      func() time.Time
}

type Pipeline struct {
	recognizer recognition.Recognizer
	foods      FoodFinder
	logs       LogStore
	logger     *slog.Logger
	clock      func() time.Time
}

func New(deps Deps) *Pipeline {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Pipeline{
		recognizer: deps.Recognizer,
		foods:      deps.Foods,
		logs:       deps.Logs,
		logger:     deps.Logger,
		clock:      clock,
	}
}

// UploadResult is what one upload produced. Cached is set when the same
// image was already analysed in this session.
type UploadResult struct {
	Keywords   []string           `json:"keywords"`
	Candidates []models.Candidate `json:"candidates"`
	Cached     bool               `json:"cached"`
}

// Upload runs recognition and lookup for an image and stores the outcome on
// the session. On any error the session is left as it was.
func (p *Pipeline) Upload(ctx context.Context, state *session.State, filename string, image []byte) (UploadResult, error) {
	if !state.Authenticated() {
		return UploadResult{}, NotAuthenticated(state)
	}
	if len(image) == 0 {
		return UploadResult{}, ErrEmptyImage
	}

	key := uploadKey(filename, image)
	if key == state.LastUploadKey && state.Candidates != nil {
		p.debug("reusing upload", "user", state.UserID, "file", filename)
		return UploadResult{Keywords: state.Keywords, Candidates: state.Candidates, Cached: true}, nil
	}

	if p.recognizer == nil {
		return UploadResult{}, fmt.Errorf("%w: %w", ErrRecognition, recognition.ErrNotConfigured)
	}
	raw, err := p.recognizer.Recognize(ctx, image, "")
	if err != nil {
		return UploadResult{}, fmt.Errorf("%w: %s: %w", ErrRecognition, filename, err)
	}

	words := keywords.Parse(raw)
	candidates, err := LookupCandidates(ctx, p.foods, words)
	if err != nil {
		return UploadResult{}, err
	}
	p.debug("upload analysed", "user", state.UserID, "file", filename,
		"keywords", len(words), "candidates", len(candidates))

	state.LastUploadKey = key
	state.Keywords = words
	state.Candidates = candidates

	return UploadResult{Keywords: words, Candidates: candidates}, nil
}

// LookupCandidates fetches up to CandidatesPerKeyword rows per keyword, in
// keyword order, and keeps the first row seen for each food name.
func LookupCandidates(ctx context.Context, foods FoodFinder, words []string) ([]models.Candidate, error) {
	candidates := make([]models.Candidate, 0)
	if len(words) == 0 {
		return candidates, nil
	}

	seen := map[string]struct{}{}
	for _, word := range words {
		rows, err := foods.FindFoods(ctx, word, CandidatesPerKeyword)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", word, err)
		}
		if len(rows) > CandidatesPerKeyword {
			rows = rows[:CandidatesPerKeyword]
		}
		for _, row := range rows {
			if _, ok := seen[row.Name]; ok {
				continue
			}
			seen[row.Name] = struct{}{}
			candidates = append(candidates, models.Candidate{
				FoodMetadataRow: row,
				Keyword:         word,
				Label:           Label(row),
			})
		}
	}
	return candidates, nil
}

// Label is the display text for a candidate, e.g. "돈까스 (452.7kcal)".
func Label(row models.FoodMetadataRow) string {
	return fmt.Sprintf("%s (%skcal)", row.Name, humanize.CommafWithDigits(Round1(row.Calories), 1))
}

// Commit logs the candidate at index for the session's user.
func (p *Pipeline) Commit(ctx context.Context, state *session.State, index int) (models.DietLogEntry, error) {
	if !state.Authenticated() {
		return models.DietLogEntry{}, NotAuthenticated(state)
	}
	if len(state.Candidates) == 0 {
		return models.DietLogEntry{}, ErrNoCandidates
	}
	if index < 0 || index >= len(state.Candidates) {
		return models.DietLogEntry{}, fmt.Errorf("%w: %d of %d", ErrInvalidSelection, index, len(state.Candidates))
	}

	picked := state.Candidates[index]
	entry := models.DietLogEntry{
		UserID:    state.UserID,
		FoodName:  picked.Name,
		Calories:  Round1(picked.Calories),
		Protein:   Round1(picked.Protein),
		Fat:       Round1(picked.Fat),
		Carbs:     Round1(picked.Carbs),
		CreatedAt: p.clock().Truncate(time.Second),
	}

	if err := p.logs.SaveLog(ctx, &entry); err != nil {
		return models.DietLogEntry{}, fmt.Errorf("save %s: %w", picked.Name, err)
	}
	p.debug("entry logged", "user", entry.UserID, "food", entry.FoodName, "id", entry.ID)
	return entry, nil
}

// NotAuthenticated wraps ErrNotAuthenticated with the session's auth state.
func NotAuthenticated(state *session.State) error {
	return fmt.Errorf("%w: %w", ErrNotAuthenticated, &session.AuthRequiredError{State: state.Auth})
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func uploadKey(filename string, image []byte) string {
	sum := sha256.Sum256(image)
	return filename + ":" + hex.EncodeToString(sum[:8])
}

func (p *Pipeline) debug(msg string, args ...interface{}) {
	if p.logger != nil {
		p.logger.Debug(msg, args...)
	}
}
