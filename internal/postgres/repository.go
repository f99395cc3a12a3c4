package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
	"github.com/dailyspot/internal/rotation"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	return connect(poolConfig, logger)
}

// NewRepositoryFromURL creates a repository from a connection URL
func NewRepositoryFromURL(url string, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	return connect(poolConfig, logger)
}

func connect(poolConfig *pgxpool.Config, logger *slog.Logger) (*Repository, error) {
	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS spots (
			id INT PRIMARY KEY CHECK (id >= 1),
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			media JSONB NOT NULL DEFAULT '[]',
			photos JSONB NOT NULL DEFAULT '[]',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS user_stats (
			uid VARCHAR(128) PRIMARY KEY,
			total_games INT NOT NULL DEFAULT 0,
			total_score BIGINT NOT NULL DEFAULT 0,
			average_distance DOUBLE PRECISION NOT NULL DEFAULT 0,
			best_score INT NOT NULL DEFAULT 0,
			best_distance DOUBLE PRECISION,
			streak_count INT NOT NULL DEFAULT 0,
			last_played_date VARCHAR(10) NOT NULL DEFAULT '',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS game_history (
			id BIGSERIAL PRIMARY KEY,
			uid VARCHAR(128) NOT NULL REFERENCES user_stats(uid),
			date VARCHAR(10) NOT NULL,
			spot_id INT NOT NULL,
			distance DOUBLE PRECISION NOT NULL,
			score INT NOT NULL,
			guess_lat DOUBLE PRECISION NOT NULL,
			guess_lng DOUBLE PRECISION NOT NULL,
			correct_lat DOUBLE PRECISION NOT NULL,
			correct_lng DOUBLE PRECISION NOT NULL,
			played_at TIMESTAMP NOT NULL,
			UNIQUE(uid, date, spot_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_game_history_uid ON game_history(uid, played_at)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// ListSpots returns every spot. Ordering is left to the caller.
func (r *Repository) ListSpots(ctx context.Context) ([]domain.Spot, error) {
	query := `SELECT id, latitude, longitude, media, photos FROM spots`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing spots: %w", err)
	}
	defer rows.Close()

	var spots []domain.Spot
	for rows.Next() {
		var spot domain.Spot
		var media, photos []byte
		if err := rows.Scan(&spot.ID, &spot.Coordinates.Latitude, &spot.Coordinates.Longitude, &media, &photos); err != nil {
			return nil, fmt.Errorf("scanning spot: %w", err)
		}
		if err := json.Unmarshal(media, &spot.Media); err != nil {
			return nil, fmt.Errorf("decoding media of spot %d: %w", spot.ID, err)
		}
		if err := json.Unmarshal(photos, &spot.Photos); err != nil {
			return nil, fmt.Errorf("decoding photos of spot %d: %w", spot.ID, err)
		}
		spots = append(spots, spot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating spots: %w", err)
	}
	return spots, nil
}

// UpsertSpots inserts or replaces spots in one batch
func (r *Repository) UpsertSpots(ctx context.Context, spots []domain.Spot) error {
	if len(spots) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO spots (id, latitude, longitude, media, photos, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (id)
		DO UPDATE SET latitude = $2, longitude = $3, media = $4, photos = $5, updated_at = $6
	`
	now := time.Now()

	for _, spot := range spots {
		media, err := json.Marshal(nonNil(spot.Media))
		if err != nil {
			return fmt.Errorf("marshaling media of spot %d: %w", spot.ID, err)
		}
		photos, err := json.Marshal(nonNil(spot.Photos))
		if err != nil {
			return fmt.Errorf("marshaling photos of spot %d: %w", spot.ID, err)
		}
		batch.Queue(query, spot.ID, spot.Coordinates.Latitude, spot.Coordinates.Longitude, media, photos, now)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range spots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting spots: %w", err)
		}
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

const statsColumns = `uid, total_games, total_score, average_distance, best_score,
	best_distance, streak_count, last_played_date, created_at, updated_at`

func scanStats(row pgx.Row) (*domain.GameStats, error) {
	var stats domain.GameStats
	var bestDistance *float64
	err := row.Scan(
		&stats.UID, &stats.TotalGames, &stats.TotalScore, &stats.AverageDistance, &stats.BestScore,
		&bestDistance, &stats.StreakCount, &stats.LastPlayedDate, &stats.CreatedAt, &stats.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if bestDistance != nil {
		stats.BestDistance = *bestDistance
	}
	return &stats, nil
}

// GetOrCreateUserStats returns the user's stats with up to historyLimit
// most recent games, creating an empty record on first access. The
// aggregates always cover the full history even when it is truncated.
func (r *Repository) GetOrCreateUserStats(ctx context.Context, uid string, historyLimit int) (*domain.GameStats, error) {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_stats (uid, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (uid) DO NOTHING
	`, uid, now)
	if err != nil {
		return nil, fmt.Errorf("creating user stats: %w", err)
	}

	stats, err := scanStats(r.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE uid = $1`, uid))
	if err != nil {
		return nil, fmt.Errorf("getting user stats: %w", err)
	}

	history, err := r.listHistory(ctx, uid, historyLimit)
	if err != nil {
		return nil, err
	}
	stats.AttachHistory(history)
	return stats, nil
}

// listHistory returns the user's games oldest first, keeping the newest limit
func (r *Repository) listHistory(ctx context.Context, uid string, limit int) ([]domain.GameRecord, error) {
	if limit <= 0 {
		limit = 365
	}
	query := `
		SELECT date, spot_id, distance, score, guess_lat, guess_lng, correct_lat, correct_lng, played_at
		FROM (
			SELECT * FROM game_history WHERE uid = $1 ORDER BY played_at DESC, id DESC LIMIT $2
		) recent
		ORDER BY played_at ASC, id ASC
	`
	rows, err := r.pool.Query(ctx, query, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("listing game history: %w", err)
	}
	defer rows.Close()

	history := []domain.GameRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating game history: %w", err)
	}
	return history, nil
}

func scanRecord(row pgx.Row) (*domain.GameRecord, error) {
	var rec domain.GameRecord
	err := row.Scan(
		&rec.Date, &rec.SpotID, &rec.Distance, &rec.Score,
		&rec.GuessCoordinates.Latitude, &rec.GuessCoordinates.Longitude,
		&rec.CorrectCoordinates.Latitude, &rec.CorrectCoordinates.Longitude,
		&rec.PlayedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.PlayedAt = rec.PlayedAt.UTC()
	return &rec, nil
}

// GetGameForDate returns the user's game on the given day
func (r *Repository) GetGameForDate(ctx context.Context, uid, date string) (*domain.GameRecord, error) {
	query := `
		SELECT date, spot_id, distance, score, guess_lat, guess_lng, correct_lat, correct_lng, played_at
		FROM game_history
		WHERE uid = $1 AND date = $2
		ORDER BY played_at DESC
		LIMIT 1
	`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, uid, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting game for date: %w", err)
	}
	return rec, nil
}

// AppendGame folds one game into the user's stats inside a transaction.
// The stats row is locked for the duration so concurrent appends for the
// same user serialize. It returns false when the game was already recorded.
func (r *Repository) AppendGame(ctx context.Context, uid string, rec domain.GameRecord) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO user_stats (uid, created_at, updated_at)
		VALUES ($1, $2, $2)
		ON CONFLICT (uid) DO NOTHING
	`, uid, rec.PlayedAt)
	if err != nil {
		return false, fmt.Errorf("creating user stats: %w", err)
	}

	stats, err := scanStats(tx.QueryRow(ctx, `SELECT `+statsColumns+` FROM user_stats WHERE uid = $1 FOR UPDATE`, uid))
	if err != nil {
		return false, fmt.Errorf("locking user stats: %w", err)
	}

	var exists bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM game_history WHERE uid = $1 AND date = $2 AND spot_id = $3)
	`, uid, rec.Date, rec.SpotID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking game history: %w", err)
	}
	if exists {
		return false, nil
	}

	stats.Append(rec, rotation.PreviousDateKey)

	_, err = tx.Exec(ctx, `
		INSERT INTO game_history (uid, date, spot_id, distance, score, guess_lat, guess_lng, correct_lat, correct_lng, played_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uid, rec.Date, rec.SpotID, rec.Distance, rec.Score,
		rec.GuessCoordinates.Latitude, rec.GuessCoordinates.Longitude,
		rec.CorrectCoordinates.Latitude, rec.CorrectCoordinates.Longitude,
		rec.PlayedAt)
	if err != nil {
		return false, fmt.Errorf("inserting game history: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE user_stats
		SET total_games = $2, total_score = $3, average_distance = $4, best_score = $5,
			best_distance = $6, streak_count = $7, last_played_date = $8, updated_at = $9
		WHERE uid = $1
	`, uid, stats.TotalGames, stats.TotalScore, stats.AverageDistance, stats.BestScore,
		stats.BestDistance, stats.StreakCount, stats.LastPlayedDate, stats.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("updating user stats: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("committing transaction: %w", err)
	}

	r.logger.Debug("game appended to stats",
		"uid", uid,
		"date", rec.Date,
		"spot_id", rec.SpotID,
		"total_games", stats.TotalGames,
		"streak", stats.StreakCount,
	)
	return true, nil
}
