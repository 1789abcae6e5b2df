package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skeetgame-ingest/internal/config"
	"github.com/skeetgame-ingest/internal/domain"
)

// Store provides PostgreSQL-based persistence. Entity state lives in
// per-type document tables; high-volume event records and rate limits use
// columnar tables.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a new PostgreSQL store
func NewStore(cfg *config.PostgresConfig, logger *slog.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (s *Store) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS players (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS player_profiles (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS profile_flags (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS follows (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS followers (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gamestate (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_schedule (
			id TEXT PRIMARY KEY,
			document JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS handle_index (
			handle TEXT PRIMARY KEY,
			id TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rate_limits (
			did TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			window_start BIGINT NOT NULL,
			over_limit_attempts INTEGER NOT NULL,
			abusive BOOLEAN NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS event_records (
			did TEXT NOT NULL,
			kind TEXT NOT NULL,
			time BIGINT NOT NULL,
			PRIMARY KEY (did, time)
		)`,
		`CREATE TABLE IF NOT EXISTS event_summaries (
			did TEXT NOT NULL,
			posts INTEGER NOT NULL,
			replies INTEGER NOT NULL,
			likes INTEGER NOT NULL,
			run_time BIGINT NOT NULL,
			PRIMARY KEY (did, run_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_players_status ON players ((document->>'status'))`,
		`CREATE INDEX IF NOT EXISTS idx_event_records_time ON event_records (time)`,
		`CREATE INDEX IF NOT EXISTS idx_event_summaries_run_time ON event_summaries (run_time)`,
	}

	for _, migration := range migrations {
		if _, err := s.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	s.logger.Info("database migrations completed")
	return nil
}

// saveDocument upserts one entity document by key
func (s *Store) saveDocument(ctx context.Context, table, id string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling %s document: %w", table, err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, document) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document
	`, table)
	if _, err := s.pool.Exec(ctx, query, id, payload); err != nil {
		return fmt.Errorf("saving %s document: %w", table, err)
	}
	return nil
}

// getDocument loads one entity document by key into out, reporting
// whether a row existed
func (s *Store) getDocument(ctx context.Context, table, id string, out any) (bool, error) {
	query := fmt.Sprintf(`SELECT document FROM %s WHERE id = $1`, table)
	var payload []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("getting %s document: %w", table, err)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return false, fmt.Errorf("unmarshaling %s document: %w", table, err)
	}
	return true, nil
}

// deleteDocument removes one entity document by key
func (s *Store) deleteDocument(ctx context.Context, table, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table)
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("deleting %s document: %w", table, err)
	}
	return nil
}

// SavePlayer upserts a player document
func (s *Store) SavePlayer(ctx context.Context, player *domain.Player) error {
	for _, item := range player.Inventory {
		if err := item.Validate(); err != nil {
			return fmt.Errorf("rejecting player %s: %w", player.DID, err)
		}
	}
	return s.saveDocument(ctx, "players", player.DID, player)
}

// GetPlayer loads a player document, returning nil on miss
func (s *Store) GetPlayer(ctx context.Context, did string) (*domain.Player, error) {
	var player domain.Player
	found, err := s.getDocument(ctx, "players", did, &player)
	if err != nil || !found {
		return nil, err
	}
	return &player, nil
}

// DeletePlayer removes a player document
func (s *Store) DeletePlayer(ctx context.Context, did string) error {
	return s.deleteDocument(ctx, "players", did)
}

// GetActivePlayerDIDs returns every identifier whose status is "play"
func (s *Store) GetActivePlayerDIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM players WHERE document->>'status' = 'play'`)
	if err != nil {
		return nil, fmt.Errorf("querying active players: %w", err)
	}
	defer rows.Close()

	var dids []string
	for rows.Next() {
		var did string
		if err := rows.Scan(&did); err != nil {
			return nil, fmt.Errorf("scanning active player: %w", err)
		}
		dids = append(dids, did)
	}
	return dids, rows.Err()
}

// SaveProfile upserts a profile snapshot
func (s *Store) SaveProfile(ctx context.Context, profile *domain.ProfileSnapshot) error {
	return s.saveDocument(ctx, "player_profiles", profile.DID, profile)
}

// GetProfile loads a profile snapshot, returning nil on miss
func (s *Store) GetProfile(ctx context.Context, did string) (*domain.ProfileSnapshot, error) {
	var profile domain.ProfileSnapshot
	found, err := s.getDocument(ctx, "player_profiles", did, &profile)
	if err != nil || !found {
		return nil, err
	}
	return &profile, nil
}

// DeleteProfile removes a profile snapshot
func (s *Store) DeleteProfile(ctx context.Context, did string) error {
	return s.deleteDocument(ctx, "player_profiles", did)
}

// SaveFlags upserts a profile flag list
func (s *Store) SaveFlags(ctx context.Context, flags *domain.ProfileFlags) error {
	return s.saveDocument(ctx, "profile_flags", flags.DID, flags)
}

// GetFlags loads a profile flag list, returning nil on miss
func (s *Store) GetFlags(ctx context.Context, did string) (*domain.ProfileFlags, error) {
	var flags domain.ProfileFlags
	found, err := s.getDocument(ctx, "profile_flags", did, &flags)
	if err != nil || !found {
		return nil, err
	}
	return &flags, nil
}

// GetFlagsBatch loads flag lists for many identifiers in chunks
func (s *Store) GetFlagsBatch(ctx context.Context, dids []string) ([]*domain.ProfileFlags, error) {
	const chunkSize = 100
	var out []*domain.ProfileFlags
	for start := 0; start < len(dids); start += chunkSize {
		end := start + chunkSize
		if end > len(dids) {
			end = len(dids)
		}
		rows, err := s.pool.Query(ctx,
			`SELECT document FROM profile_flags WHERE id = ANY($1)`, dids[start:end])
		if err != nil {
			return nil, fmt.Errorf("querying profile flags: %w", err)
		}
		for rows.Next() {
			var payload []byte
			if err := rows.Scan(&payload); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning profile flags: %w", err)
			}
			var flags domain.ProfileFlags
			if err := json.Unmarshal(payload, &flags); err != nil {
				rows.Close()
				return nil, fmt.Errorf("unmarshaling profile flags: %w", err)
			}
			out = append(out, &flags)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// DeleteFlags removes a profile flag list
func (s *Store) DeleteFlags(ctx context.Context, did string) error {
	return s.deleteDocument(ctx, "profile_flags", did)
}

// SaveRateLimit upserts a rate-limit record
func (s *Store) SaveRateLimit(ctx context.Context, rec *domain.RateLimitRecord) error {
	query := `
		INSERT INTO rate_limits (did, count, window_start, over_limit_attempts, abusive)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (did) DO UPDATE SET
			count = EXCLUDED.count,
			window_start = EXCLUDED.window_start,
			over_limit_attempts = EXCLUDED.over_limit_attempts,
			abusive = EXCLUDED.abusive
	`
	var windowStart int64
	if !rec.WindowStart.IsZero() {
		windowStart = rec.WindowStart.UnixMilli()
	}
	_, err := s.pool.Exec(ctx, query, rec.DID, rec.Count, windowStart, rec.OverLimitAttempts, rec.Abusive)
	if err != nil {
		return fmt.Errorf("saving rate limit: %w", err)
	}
	return nil
}

// GetRateLimit loads a rate-limit record, returning nil on miss
func (s *Store) GetRateLimit(ctx context.Context, did string) (*domain.RateLimitRecord, error) {
	query := `
		SELECT did, count, window_start, over_limit_attempts, abusive
		FROM rate_limits WHERE did = $1
	`
	var rec domain.RateLimitRecord
	var windowStart int64
	err := s.pool.QueryRow(ctx, query, did).Scan(
		&rec.DID, &rec.Count, &windowStart, &rec.OverLimitAttempts, &rec.Abusive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting rate limit: %w", err)
	}
	if windowStart != 0 {
		rec.WindowStart = time.UnixMilli(windowStart)
	}
	return &rec, nil
}

// InsertEventBatch appends event records in one statement; duplicate
// (did, time) keys are no-ops
func (s *Store) InsertEventBatch(ctx context.Context, records []domain.EventRecord) error {
	if len(records) == 0 {
		return nil
	}

	dids := make([]string, len(records))
	kinds := make([]string, len(records))
	times := make([]int64, len(records))
	for i, rec := range records {
		dids[i] = rec.DID
		kinds[i] = string(rec.Kind)
		times[i] = rec.Time.UnixMilli()
	}

	query := `
		WITH data (did, kind, time) AS (
			SELECT * FROM UNNEST($1::text[], $2::text[], $3::bigint[])
		)
		INSERT INTO event_records (did, kind, time)
		SELECT did, kind, time FROM data
		ON CONFLICT (did, time) DO NOTHING
	`
	if _, err := s.pool.Exec(ctx, query, dids, kinds, times); err != nil {
		return fmt.Errorf("batch inserting event records: %w", err)
	}
	return nil
}

// GetEvent loads one event record, returning nil on miss
func (s *Store) GetEvent(ctx context.Context, did string, at time.Time) (*domain.EventRecord, error) {
	query := `SELECT did, kind, time FROM event_records WHERE did = $1 AND time = $2`
	var rec domain.EventRecord
	var ms int64
	err := s.pool.QueryRow(ctx, query, did, at.UnixMilli()).Scan(&rec.DID, &rec.Kind, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event record: %w", err)
	}
	rec.Time = time.UnixMilli(ms)
	return &rec, nil
}

// DeleteEvent removes one event record
func (s *Store) DeleteEvent(ctx context.Context, did string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM event_records WHERE did = $1 AND time = $2`, did, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("deleting event record: %w", err)
	}
	return nil
}

// Summarize aggregates the trailing window of event records into per-kind
// counts keyed by (did, run time) and returns the produced rows
func (s *Store) Summarize(ctx context.Context, window time.Duration) ([]domain.EventSummary, error) {
	runTime, cutoff := windowBounds(time.Now(), window)

	query := `
		INSERT INTO event_summaries (did, posts, replies, likes, run_time)
		SELECT
			did,
			COUNT(*) FILTER (WHERE kind = 'post'),
			COUNT(*) FILTER (WHERE kind = 'reply'),
			COUNT(*) FILTER (WHERE kind = 'like'),
			$1
		FROM event_records
		WHERE time >= $2
		GROUP BY did
		ON CONFLICT (did, run_time) DO NOTHING
		RETURNING did, posts, replies, likes, run_time
	`
	rows, err := s.pool.Query(ctx, query, runTime, cutoff)
	if err != nil {
		return nil, fmt.Errorf("summarizing event records: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// windowBounds returns the millisecond run time and trailing cutoff for
// one aggregation pass over [cutoff, runTime)
func windowBounds(now time.Time, window time.Duration) (runTime, cutoff int64) {
	return now.UnixMilli(), now.Add(-window).UnixMilli()
}

// rollupWindowClause selects the summary rows one rollup supersedes:
// everything inside the window except earlier daily aggregates. The
// SELECT and DELETE in RollupDaily share it so exactly the rows that
// were summed are the rows removed.
const rollupWindowClause = `run_time >= $2 AND run_time < $3 AND did <> $1`

// rollupSummaries folds a batch of summary rows into one daily aggregate.
// ok is false when there is nothing to roll up.
func rollupSummaries(rows []domain.EventSummary, runTime int64) (agg domain.EventSummary, ok bool) {
	if len(rows) == 0 {
		return domain.EventSummary{}, false
	}
	agg = domain.EventSummary{DID: domain.DailySummaryDID, RunTime: time.UnixMilli(runTime)}
	for _, row := range rows {
		agg.Posts += row.Posts
		agg.Replies += row.Replies
		agg.Likes += row.Likes
	}
	return agg, true
}

// RollupDaily sums the trailing day's summaries into one aggregate row and
// deletes the summarized rows, transactionally. Returns nil when there was
// nothing to roll up. On failure the transaction is rolled back and the
// error returned; the next scheduled run retries.
func (s *Store) RollupDaily(ctx context.Context, window time.Duration) (*domain.EventSummary, error) {
	runTime, cutoff := windowBounds(time.Now(), window)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning rollup transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT did, posts, replies, likes, run_time FROM event_summaries WHERE `+rollupWindowClause,
		domain.DailySummaryDID, cutoff, runTime)
	if err != nil {
		return nil, fmt.Errorf("selecting summaries to roll up: %w", err)
	}
	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, err
	}

	summary, ok := rollupSummaries(summaries, runTime)
	if !ok {
		return nil, nil
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO event_summaries (did, posts, replies, likes, run_time) VALUES ($1, $2, $3, $4, $5)`,
		summary.DID, summary.Posts, summary.Replies, summary.Likes, runTime); err != nil {
		return nil, fmt.Errorf("inserting daily summary: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM event_summaries WHERE `+rollupWindowClause,
		domain.DailySummaryDID, cutoff, runTime); err != nil {
		return nil, fmt.Errorf("deleting rolled-up summaries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing rollup: %w", err)
	}
	return &summary, nil
}

// GetSummary loads one summarization row, returning nil on miss
func (s *Store) GetSummary(ctx context.Context, did string, runTime time.Time) (*domain.EventSummary, error) {
	query := `
		SELECT did, posts, replies, likes, run_time
		FROM event_summaries WHERE did = $1 AND run_time = $2
	`
	var summary domain.EventSummary
	var ms int64
	err := s.pool.QueryRow(ctx, query, did, runTime.UnixMilli()).Scan(
		&summary.DID, &summary.Posts, &summary.Replies, &summary.Likes, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting event summary: %w", err)
	}
	summary.RunTime = time.UnixMilli(ms)
	return &summary, nil
}

// DeleteSummary removes one summarization row
func (s *Store) DeleteSummary(ctx context.Context, did string, runTime time.Time) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM event_summaries WHERE did = $1 AND run_time = $2`, did, runTime.UnixMilli())
	if err != nil {
		return fmt.Errorf("deleting event summary: %w", err)
	}
	return nil
}

// SaveHandle upserts a handle-to-identifier index entry
func (s *Store) SaveHandle(ctx context.Context, handle, did string) error {
	query := `
		INSERT INTO handle_index (handle, id) VALUES ($1, $2)
		ON CONFLICT (handle) DO UPDATE SET id = EXCLUDED.id
	`
	if _, err := s.pool.Exec(ctx, query, handle, did); err != nil {
		return fmt.Errorf("saving handle index: %w", err)
	}
	return nil
}

// GetDIDByHandle resolves a handle from the index, returning "" on miss
func (s *Store) GetDIDByHandle(ctx context.Context, handle string) (string, error) {
	var did string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM handle_index WHERE handle = $1`, handle).Scan(&did)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolving handle: %w", err)
	}
	return did, nil
}

// DeleteHandle removes a handle index entry
func (s *Store) DeleteHandle(ctx context.Context, handle string) error {
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM handle_index WHERE handle = $1`, handle); err != nil {
		return fmt.Errorf("deleting handle index: %w", err)
	}
	return nil
}

type followsDoc struct {
	Data []string `json:"data"`
}

// SaveFollows upserts an account's followed-identifier list
func (s *Store) SaveFollows(ctx context.Context, did string, follows []string) error {
	return s.saveDocument(ctx, "follows", did, followsDoc{Data: follows})
}

// GetFollows loads an account's followed-identifier list, nil on miss
func (s *Store) GetFollows(ctx context.Context, did string) ([]string, error) {
	var doc followsDoc
	found, err := s.getDocument(ctx, "follows", did, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.Data, nil
}

// SaveFollowers upserts an account's follower list
func (s *Store) SaveFollowers(ctx context.Context, did string, followers []string) error {
	return s.saveDocument(ctx, "followers", did, followsDoc{Data: followers})
}

// GetFollowers loads an account's follower list, nil on miss
func (s *Store) GetFollowers(ctx context.Context, did string) ([]string, error) {
	var doc followsDoc
	found, err := s.getDocument(ctx, "followers", did, &doc)
	if err != nil || !found {
		return nil, err
	}
	return doc.Data, nil
}

const gameStateKey = "global"

// SaveGameState upserts the process-wide game state row
func (s *Store) SaveGameState(ctx context.Context, state *domain.GameState) error {
	return s.saveDocument(ctx, "gamestate", gameStateKey, state)
}

// GetGameState loads the game state row, returning nil on miss
func (s *Store) GetGameState(ctx context.Context) (*domain.GameState, error) {
	var state domain.GameState
	found, err := s.getDocument(ctx, "gamestate", gameStateKey, &state)
	if err != nil || !found {
		return nil, err
	}
	return &state, nil
}

type scheduleDoc struct {
	Data string `json:"data"`
}

const scheduleKey = "events"

// SaveEventSchedule upserts the event schedule document
func (s *Store) SaveEventSchedule(ctx context.Context, schedule string) error {
	return s.saveDocument(ctx, "event_schedule", scheduleKey, scheduleDoc{Data: schedule})
}

// GetEventSchedule loads the event schedule document, "" on miss
func (s *Store) GetEventSchedule(ctx context.Context) (string, error) {
	var doc scheduleDoc
	found, err := s.getDocument(ctx, "event_schedule", scheduleKey, &doc)
	if err != nil || !found {
		return "", err
	}
	return doc.Data, nil
}

func scanSummaries(rows pgx.Rows) ([]domain.EventSummary, error) {
	var summaries []domain.EventSummary
	for rows.Next() {
		var summary domain.EventSummary
		var ms int64
		if err := rows.Scan(&summary.DID, &summary.Posts, &summary.Replies, &summary.Likes, &ms); err != nil {
			return nil, fmt.Errorf("scanning event summary: %w", err)
		}
		summary.RunTime = time.UnixMilli(ms)
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}
