package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hoonseung2/aidietdiary/internal/config"
	"github.com/hoonseung2/aidietdiary/internal/models"
	"github.com/hoonseung2/aidietdiary/internal/recognition"
	"github.com/hoonseung2/aidietdiary/internal/session"
	"github.com/hoonseung2/aidietdiary/internal/storage"
	"github.com/hoonseung2/aidietdiary/internal/testutil"
)

type fakeRecognizer struct {
	text  string
	err   error
	calls int
}

func (f *fakeRecognizer) Recognize(ctx context.Context, image []byte, mimeType string) (string, error) {
	f.calls++
	return f.text, f.err
}

type fakeFinder struct {
	rows    map[string][]models.FoodMetadataRow
	queries []string
}

func (f *fakeFinder) FindFoods(ctx context.Context, keyword string, limit int) ([]models.FoodMetadataRow, error) {
	f.queries = append(f.queries, keyword)
	return f.rows[keyword], nil
}

type failingLogs struct {
	*storage.SQLiteStorage
}

func (failingLogs) SaveLog(ctx context.Context, entry *models.DietLogEntry) error {
	return errors.New("disk full")
}

func authedState(user string) *session.State {
	return &session.State{ID: "s1", UserID: user, Auth: session.AuthAuthenticated}
}

func newTestPipeline(t *testing.T, rec recognition.Recognizer, now time.Time) (*Pipeline, *storage.SQLiteStorage) {
	t.Helper()

	stor := testutil.OpenTestStorage(t)
	testutil.SeedFoods(t, stor,
		models.FoodMetadataRow{Name: "돈까스", Calories: 452.666, Protein: 20.04, Fat: 25.56, Carbs: 40.01},
		models.FoodMetadataRow{Name: "치즈돈까스", Calories: 600, Protein: 30, Fat: 35, Carbs: 45},
		models.FoodMetadataRow{Name: "고기튀김", Calories: 380, Protein: 18, Fat: 22, Carbs: 20},
		models.FoodMetadataRow{Name: "김치찌개", Calories: 200, Protein: 12, Fat: 8, Carbs: 10},
	)

	p := New(Deps{
		Recognizer: rec,
		Foods:      stor,
		Logs:       stor,
		Clock:      func() time.Time { return now },
	})
	return p, stor
}

func TestLookupCandidatesDedupesAcrossKeywords(t *testing.T) {
	finder := &fakeFinder{rows: map[string][]models.FoodMetadataRow{
		"돈까스": {{Name: "돈까스", Calories: 450}, {Name: "치즈돈까스", Calories: 600}},
		"커틀릿": {{Name: "돈까스", Calories: 999}, {Name: "커틀릿", Calories: 500}},
	}}

	got, err := LookupCandidates(context.Background(), finder, []string{"돈까스", "커틀릿"})
	if err != nil {
		t.Fatalf("LookupCandidates: %v", err)
	}

	names := make([]string, len(got))
	for i, c := range got {
		names[i] = c.Name
	}
	want := []string{"돈까스", "치즈돈까스", "커틀릿"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Fatalf("unexpected candidates %v, want %v", names, want)
	}
	if got[0].Calories != 450 || got[0].Keyword != "돈까스" {
		t.Fatalf("earliest keyword should win, got %+v", got[0])
	}
	if got[0].Label != "돈까스 (450kcal)" {
		t.Fatalf("unexpected label %q", got[0].Label)
	}
}

func TestLookupCandidatesCapsPerKeyword(t *testing.T) {
	var rows []models.FoodMetadataRow
	for i := 0; i < 9; i++ {
		rows = append(rows, models.FoodMetadataRow{Name: fmt.Sprintf("밥%d", i)})
	}
	finder := &fakeFinder{rows: map[string][]models.FoodMetadataRow{"밥": rows}}

	got, err := LookupCandidates(context.Background(), finder, []string{"밥"})
	if err != nil {
		t.Fatalf("LookupCandidates: %v", err)
	}
	if len(got) != CandidatesPerKeyword {
		t.Fatalf("expected %d candidates, got %d", CandidatesPerKeyword, len(got))
	}
}

func TestLookupCandidatesNoKeywords(t *testing.T) {
	finder := &fakeFinder{}
	got, err := LookupCandidates(context.Background(), finder, nil)
	if err != nil {
		t.Fatalf("LookupCandidates: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	if len(finder.queries) != 0 {
		t.Fatalf("expected no queries, got %v", finder.queries)
	}
}

func TestUploadProducesCandidates(t *testing.T) {
	rec := &fakeRecognizer{text: "돈까스, 고기튀김, 커틀릿"}
	p, _ := newTestPipeline(t, rec, time.Now())
	state := authedState("alice")

	res, err := p.Upload(context.Background(), state, "lunch.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.Keywords) != 3 {
		t.Fatalf("unexpected keywords: %v", res.Keywords)
	}
	// 돈까스 matches 돈까스 and 치즈돈까스, 고기튀김 matches itself, 커틀릿 nothing.
	if len(res.Candidates) != 3 {
		t.Fatalf("expected 3 candidates, got %+v", res.Candidates)
	}
	if state.LastUploadKey == "" || len(state.Candidates) != 3 {
		t.Fatalf("state not updated: %+v", state)
	}

	again, err := p.Upload(context.Background(), state, "lunch.jpg", []byte("jpeg"))
	if err != nil {
		t.Fatalf("Upload again: %v", err)
	}
	if !again.Cached || rec.calls != 1 {
		t.Fatalf("expected cached result without new recognition, calls=%d", rec.calls)
	}

	if _, err := p.Upload(context.Background(), state, "lunch.jpg", []byte("other")); err != nil {
		t.Fatalf("Upload new image: %v", err)
	}
	if rec.calls != 2 {
		t.Fatalf("new image content should trigger recognition, calls=%d", rec.calls)
	}
}

func TestUploadNoMatchIsNotAnError(t *testing.T) {
	rec := &fakeRecognizer{text: "  ,  "}
	p, _ := newTestPipeline(t, rec, time.Now())
	state := authedState("alice")

	res, err := p.Upload(context.Background(), state, "x.png", []byte("png"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.Keywords) != 0 || len(res.Candidates) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
}

func TestUploadBlockedGeminiReplyIsNoMatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[],"promptFeedback":{"blockReason":"OTHER"}}`))
	}))
	defer server.Close()

	rec := recognition.NewGeminiClient(config.RecognitionConfig{
		Endpoint: server.URL,
		Model:    "gemini-test",
		APIKey:   "key",
	})
	p, _ := newTestPipeline(t, rec, time.Now())
	state := authedState("alice")

	res, err := p.Upload(context.Background(), state, "a.jpg", []byte("jpg"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(res.Keywords) != 0 || len(res.Candidates) != 0 {
		t.Fatalf("expected no keywords or candidates, got %+v", res)
	}
	if res.Candidates == nil {
		t.Fatalf("candidates should be an empty list, not nil")
	}
}

func TestUploadRecognitionFailureLeavesStateUntouched(t *testing.T) {
	rec := &fakeRecognizer{err: fmt.Errorf("quota: %w", recognition.ErrRateLimited)}
	p, _ := newTestPipeline(t, rec, time.Now())
	state := authedState("alice")
	state.LastUploadKey = "old"
	state.Candidates = []models.Candidate{{FoodMetadataRow: models.FoodMetadataRow{Name: "김밥"}}}

	_, err := p.Upload(context.Background(), state, "x.png", []byte("png"))
	if !errors.Is(err, recognition.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if !errors.Is(err, ErrRecognition) {
		t.Fatalf("expected ErrRecognition, got %v", err)
	}
	if state.LastUploadKey != "old" || len(state.Candidates) != 1 || state.Candidates[0].Name != "김밥" {
		t.Fatalf("state mutated on failure: %+v", state)
	}
}

func TestUploadRequiresAuthAndImage(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeRecognizer{}, time.Now())

	if _, err := p.Upload(context.Background(), &session.State{}, "x", []byte("a")); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
	_, err := p.Upload(context.Background(), &session.State{Auth: session.AuthRejected}, "x", []byte("a"))
	var authErr *session.AuthRequiredError
	if !errors.As(err, &authErr) || authErr.State != session.AuthRejected {
		t.Fatalf("expected rejected auth state in error, got %v", err)
	}
	if _, err := p.Upload(context.Background(), authedState("alice"), "x", nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("expected ErrEmptyImage, got %v", err)
	}
}

func TestCommitRoundsToOneDecimal(t *testing.T) {
	now := time.Date(2025, time.May, 5, 12, 30, 0, 0, time.Local)
	p, stor := newTestPipeline(t, &fakeRecognizer{text: "돈까스"}, now)
	state := authedState("alice")

	if _, err := p.Upload(context.Background(), state, "a.jpg", []byte("a")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	entry, err := p.Commit(context.Background(), state, 0)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if entry.Calories != 452.7 || entry.Protein != 20 || entry.Fat != 25.6 || entry.Carbs != 40 {
		t.Fatalf("unexpected rounding: %+v", entry)
	}

	logs, err := stor.GetLogs(context.Background(), "alice", "", "", 10)
	if err != nil {
		t.Fatalf("GetLogs: %v", err)
	}
	if len(logs) != 1 || logs[0].Calories != 452.7 || !logs[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected stored rows: %+v", logs)
	}
}

func TestCommitInvalidSelection(t *testing.T) {
	p, stor := newTestPipeline(t, &fakeRecognizer{text: "돈까스"}, time.Now())
	state := authedState("alice")

	if _, err := p.Commit(context.Background(), state, 0); !errors.Is(err, ErrNoCandidates) {
		t.Fatalf("expected ErrNoCandidates, got %v", err)
	}

	if _, err := p.Upload(context.Background(), state, "a.jpg", []byte("a")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	for _, idx := range []int{-1, len(state.Candidates)} {
		if _, err := p.Commit(context.Background(), state, idx); !errors.Is(err, ErrInvalidSelection) {
			t.Fatalf("index %d: expected ErrInvalidSelection, got %v", idx, err)
		}
	}

	logs, _ := stor.GetLogs(context.Background(), "alice", "", "", 10)
	if len(logs) != 0 {
		t.Fatalf("invalid selections must not log, got %+v", logs)
	}

	if _, err := p.Commit(context.Background(), &session.State{Candidates: state.Candidates}, 0); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestCommitStorageFailure(t *testing.T) {
	stor := testutil.OpenTestStorage(t)
	p := New(Deps{Foods: stor, Logs: failingLogs{stor}})
	state := authedState("alice")
	state.Candidates = []models.Candidate{{FoodMetadataRow: models.FoodMetadataRow{Name: "김밥"}}}

	if _, err := p.Commit(context.Background(), state, 0); err == nil {
		t.Fatalf("expected storage error")
	}
	if len(state.Candidates) != 1 {
		t.Fatalf("commit must not mutate state")
	}
}

func TestRepeatedCommitsSumInDailySummary(t *testing.T) {
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.Local)
	p, _ := newTestPipeline(t, &fakeRecognizer{text: "김치찌개"}, now)
	state := authedState("alice")

	if _, err := p.Upload(context.Background(), state, "a.jpg", []byte("a")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	first, err := p.Commit(context.Background(), state, 0)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	second, err := p.Commit(context.Background(), state, 0)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if first.ID == second.ID {
		t.Fatalf("expected two distinct rows")
	}

	today, err := p.Today(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if today.Entries != 2 || today.Calories != 400 {
		t.Fatalf("unexpected summary: %+v", today)
	}
}

func TestTrendOrdersOldestFirst(t *testing.T) {
	now := time.Date(2025, time.May, 10, 12, 0, 0, 0, time.Local)
	p, stor := newTestPipeline(t, nil, now)
	ctx := context.Background()

	for _, offset := range []int{-5, -1, -3, -1} {
		entry := models.DietLogEntry{UserID: "alice", FoodName: "밥", Calories: 100, CreatedAt: now.AddDate(0, 0, offset)}
		if err := stor.SaveLog(ctx, &entry); err != nil {
			t.Fatalf("SaveLog: %v", err)
		}
	}

	points, err := p.Trend(ctx, "alice", TrendDays)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("expected 3 points, got %+v", points)
	}
	want := []string{"2025-05-05", "2025-05-07", "2025-05-09"}
	for i, point := range points {
		if point.Date != want[i] {
			t.Fatalf("point %d: got %s, want %s", i, point.Date, want[i])
		}
	}
	if points[2].Calories != 200 {
		t.Fatalf("expected summed calories, got %v", points[2].Calories)
	}
}

func TestTrendKeepsOnlyRecentDates(t *testing.T) {
	now := time.Date(2025, time.May, 30, 12, 0, 0, 0, time.Local)
	p, stor := newTestPipeline(t, nil, now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		entry := models.DietLogEntry{UserID: "alice", FoodName: "밥", Calories: 100, CreatedAt: now.AddDate(0, 0, -i)}
		if err := stor.SaveLog(ctx, &entry); err != nil {
			t.Fatalf("SaveLog: %v", err)
		}
	}

	points, err := p.Trend(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("Trend: %v", err)
	}
	if len(points) != TrendDays || points[0].Date != "2025-05-24" || points[6].Date != "2025-05-30" {
		t.Fatalf("unexpected points: %+v", points)
	}
}

func TestUserScoping(t *testing.T) {
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.Local)
	p, stor := newTestPipeline(t, nil, now)
	ctx := context.Background()

	for _, user := range []string{"alice", "bob", "bob"} {
		entry := models.DietLogEntry{UserID: user, FoodName: "밥", Calories: 300, Protein: 5, CreatedAt: now}
		if err := stor.SaveLog(ctx, &entry); err != nil {
			t.Fatalf("SaveLog: %v", err)
		}
	}

	summary, err := p.Summary(ctx, "alice")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Today.Entries != 1 || summary.Today.Calories != 300 {
		t.Fatalf("alice summary leaked bob's rows: %+v", summary.Today)
	}
	if len(summary.Trend) != 1 || summary.Trend[0].Calories != 300 {
		t.Fatalf("alice trend leaked bob's rows: %+v", summary.Trend)
	}

	logs, err := p.Logs(ctx, "alice", "", "", 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	for _, entry := range logs {
		if entry.UserID != "alice" {
			t.Fatalf("alice logs leaked %s", entry.UserID)
		}
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
}

func TestMacroRatioOf(t *testing.T) {
	ratio := MacroRatioOf(models.DailySummary{Carbs: 50, Protein: 30, Fat: 20})
	if ratio.CarbsPercent != 50 || ratio.ProteinPercent != 30 || ratio.FatPercent != 20 {
		t.Fatalf("unexpected ratio: %+v", ratio)
	}

	empty := MacroRatioOf(models.DailySummary{})
	if empty.CarbsPercent != 0 || empty.ProteinPercent != 0 || empty.FatPercent != 0 {
		t.Fatalf("expected zero ratio, got %+v", empty)
	}
}

func TestRatioUsesTodaysEntries(t *testing.T) {
	now := time.Date(2025, time.May, 5, 9, 0, 0, 0, time.Local)
	p, _ := newTestPipeline(t, &fakeRecognizer{text: "김치찌개"}, now)
	state := authedState("alice")

	if _, err := p.Upload(context.Background(), state, "a.jpg", []byte("a")); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if _, err := p.Commit(context.Background(), state, 0); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	ratio, err := p.Ratio(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Ratio: %v", err)
	}
	if ratio.Carbs != 10 || ratio.CarbsPercent != 33.3 || ratio.ProteinPercent != 40 || ratio.FatPercent != 26.7 {
		t.Fatalf("unexpected ratio: %+v", ratio)
	}

	other, err := p.Ratio(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Ratio: %v", err)
	}
	if other != (models.MacroRatio{}) {
		t.Fatalf("expected zero ratio for another user, got %+v", other)
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{452.666, 452.7},
		{452.64, 452.6},
		{0, 0},
		{100, 100},
	}
	for _, tt := range tests {
		if got := Round1(tt.in); got != tt.want {
			t.Errorf("Round1(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
