// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/hoonseung2/aidietdiary/internal/models"
)

// TimeLayout is how created_at values are written and read back.
const TimeLayout = "2006-01-02 15:04:05"

const dateLayout = "2006-01-02"

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS food_metadata (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        food_name TEXT NOT NULL,
        calories REAL NOT NULL DEFAULT 0,
        protein REAL NOT NULL DEFAULT 0,
        fat REAL NOT NULL DEFAULT 0,
        carbs REAL NOT NULL DEFAULT 0
    );

    CREATE TABLE IF NOT EXISTS diet_logs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        food_name TEXT NOT NULL,
        calories REAL NOT NULL,
        protein REAL NOT NULL,
        fat REAL NOT NULL,
        carbs REAL NOT NULL,
        created_at DATETIME DEFAULT (DATETIME('now', 'localtime'))
    );

    CREATE TABLE IF NOT EXISTS users (
        username TEXT PRIMARY KEY,
        name TEXT NOT NULL,
        password_hash TEXT NOT NULL,
        created_at DATETIME DEFAULT (DATETIME('now', 'localtime'))
    );

    CREATE INDEX IF NOT EXISTS idx_food_metadata_name ON food_metadata(food_name);
    CREATE INDEX IF NOT EXISTS idx_diet_logs_user_created ON diet_logs(user_id, created_at);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// FindFoods returns up to limit rows whose name contains keyword.
func (s *SQLiteStorage) FindFoods(ctx context.Context, keyword string, limit int) ([]models.FoodMetadataRow, error) {
	query, args, err := sq.
		Select("id", "food_name", "calories", "protein", "fat", "carbs").
		From("food_metadata").
		Where(sq.Like{"food_name": "%" + keyword + "%"}).
		OrderBy("id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build food query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query foods: %w", err)
	}
	defer rows.Close()

	var foods []models.FoodMetadataRow
	for rows.Next() {
		var food models.FoodMetadataRow
		if err := rows.Scan(&food.ID, &food.Name, &food.Calories, &food.Protein, &food.Fat, &food.Carbs); err != nil {
			return nil, fmt.Errorf("failed to scan food: %w", err)
		}
		foods = append(foods, food)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate foods: %w", err)
	}

	return foods, nil
}

// ImportFoods loads reference rows in one transaction. With replace set the
// existing table contents are removed first.
func (s *SQLiteStorage) ImportFoods(ctx context.Context, foods []models.FoodMetadataRow, replace bool) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, "DELETE FROM food_metadata"); err != nil {
			return 0, fmt.Errorf("failed to clear food metadata: %w", err)
		}
	}

	for _, food := range foods {
		query, args, err := sq.
			Insert("food_metadata").
			Columns("food_name", "calories", "protein", "fat", "carbs").
			Values(food.Name, food.Calories, food.Protein, food.Fat, food.Carbs).
			ToSql()
		if err != nil {
			return 0, fmt.Errorf("failed to build food insert: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("failed to insert food %q: %w", food.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit foods: %w", err)
	}
	return len(foods), nil
}

// SaveLog inserts one diet log row and sets entry.ID. A zero CreatedAt leaves
// the column to its local-time default.
func (s *SQLiteStorage) SaveLog(ctx context.Context, entry *models.DietLogEntry) error {
	columns := []string{"user_id", "food_name", "calories", "protein", "fat", "carbs"}
	values := []interface{}{entry.UserID, entry.FoodName, entry.Calories, entry.Protein, entry.Fat, entry.Carbs}
	if !entry.CreatedAt.IsZero() {
		columns = append(columns, "created_at")
		values = append(values, entry.CreatedAt.Format(TimeLayout))
	}

	query, args, err := sq.Insert("diet_logs").Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build log insert: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to insert diet log: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

// GetLogs returns a user's entries newest first. startDate and endDate are
// optional YYYY-MM-DD bounds, both inclusive.
func (s *SQLiteStorage) GetLogs(ctx context.Context, userID, startDate, endDate string, limit int) ([]models.DietLogEntry, error) {
	builder := sq.
		Select("id", "user_id", "food_name", "calories", "protein", "fat", "carbs",
			"strftime('%Y-%m-%d %H:%M:%S', created_at)").
		From("diet_logs").
		Where(sq.Eq{"user_id": userID})

	if startDate != "" {
		builder = builder.Where("DATE(created_at) >= ?", startDate)
	}
	if endDate != "" {
		builder = builder.Where("DATE(created_at) <= ?", endDate)
	}

	query, args, err := builder.OrderBy("created_at DESC", "id DESC").Limit(uint64(limit)).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build log query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query diet logs: %w", err)
	}
	defer rows.Close()

	var entries []models.DietLogEntry
	for rows.Next() {
		var entry models.DietLogEntry
		var createdAtStr sql.NullString

		err := rows.Scan(&entry.ID, &entry.UserID, &entry.FoodName, &entry.Calories,
			&entry.Protein, &entry.Fat, &entry.Carbs, &createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("failed to scan diet log: %w", err)
		}

		if createdAtStr.Valid {
			if entry.CreatedAt, err = time.ParseInLocation(TimeLayout, createdAtStr.String, time.Local); err != nil {
				return nil, fmt.Errorf("failed to parse created_at: %w", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate diet logs: %w", err)
	}

	return entries, nil
}

// DailySummary sums a user's entries for one calendar date.
func (s *SQLiteStorage) DailySummary(ctx context.Context, userID string, day time.Time) (models.DailySummary, error) {
	date := day.Format(dateLayout)
	query, args, err := sq.
		Select("COALESCE(SUM(calories), 0)", "COALESCE(SUM(protein), 0)",
			"COALESCE(SUM(fat), 0)", "COALESCE(SUM(carbs), 0)", "COUNT(*)").
		From("diet_logs").
		Where(sq.Eq{"user_id": userID}).
		Where("DATE(created_at) = ?", date).
		ToSql()
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("failed to build summary query: %w", err)
	}

	summary := models.DailySummary{Date: date}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.Calories, &summary.Protein, &summary.Fat, &summary.Carbs, &summary.Entries)
	if err != nil {
		return models.DailySummary{}, fmt.Errorf("failed to query daily summary: %w", err)
	}
	return summary, nil
}

// RecentDailyCalories returns per-date calorie totals for the most recent
// days dates present in the user's log, newest first.
func (s *SQLiteStorage) RecentDailyCalories(ctx context.Context, userID string, days int) ([]models.TrendPoint, error) {
	query, args, err := sq.
		Select("DATE(created_at) AS day", "COALESCE(SUM(calories), 0)").
		From("diet_logs").
		Where(sq.Eq{"user_id": userID}).
		GroupBy("DATE(created_at)").
		OrderBy("day DESC").
		Limit(uint64(days)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build trend query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trend: %w", err)
	}
	defer rows.Close()

	var points []models.TrendPoint
	for rows.Next() {
		var point models.TrendPoint
		if err := rows.Scan(&point.Date, &point.Calories); err != nil {
			return nil, fmt.Errorf("failed to scan trend point: %w", err)
		}
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trend: %w", err)
	}
	return points, nil
}

// CreateUser inserts a new account; ErrDuplicate when the username is taken.
func (s *SQLiteStorage) CreateUser(ctx context.Context, user *models.User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE username = ?", user.Username).Scan(&count); err != nil {
		return fmt.Errorf("failed to check user: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("user %s: %w", user.Username, ErrDuplicate)
	}

	query, args, err := sq.
		Insert("users").
		Columns("username", "name", "password_hash").
		Values(user.Username, user.Name, user.PasswordHash).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build user insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteStorage) GetUser(ctx context.Context, username string) (*models.User, error) {
	query, args, err := sq.
		Select("username", "name", "password_hash", "strftime('%Y-%m-%d %H:%M:%S', created_at)").
		From("users").
		Where(sq.Eq{"username": username}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build user query: %w", err)
	}

	user := &models.User{}
	var createdAtStr sql.NullString
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&user.Username, &user.Name, &user.PasswordHash, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", username, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	if createdAtStr.Valid {
		if user.CreatedAt, err = time.ParseInLocation(TimeLayout, createdAtStr.String, time.Local); err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
	}
	return user, nil
}
