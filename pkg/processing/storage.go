package processing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"livefeed-service/pkg/common"
	"livefeed-service/pkg/models"
)

// PostgreSQLStorage PostgreSQL 存储实现
type PostgreSQLStorage struct {
	db     *sql.DB
	logger common.Logger
}

// NewPostgreSQLStorage 创建 PostgreSQL 存储
func NewPostgreSQLStorage(db *sql.DB, logger common.Logger) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		db:     db,
		logger: logger,
	}
}

const matchColumns = `id, home_team_name, home_team_logo, away_team_name, away_team_logo, club_side,
	scheduled_at, venue, competition, status, home_score, away_score, lineup, version, created_at, updated_at`

const eventColumns = `id, match_id, seq, kind, text, home_score, away_score, payload, request_id, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// CreateMatch 保存比赛
func (s *PostgreSQLStorage) CreateMatch(ctx context.Context, match *models.Match) error {
	s.logger.Debug("Creating match: %s", match.ID)

	lineupJSON, err := json.Marshal(match.Lineup)
	if err != nil {
		return fmt.Errorf("failed to marshal lineup: %w", err)
	}

	query := `
		INSERT INTO matches (` + matchColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = s.db.ExecContext(ctx, query,
		match.ID,
		match.HomeTeam.Name,
		match.HomeTeam.LogoURL,
		match.AwayTeam.Name,
		match.AwayTeam.LogoURL,
		string(match.ClubSide),
		match.ScheduledAt,
		match.Venue,
		match.Competition,
		string(match.Status),
		match.Score.Home,
		match.Score.Away,
		lineupJSON,
		match.Version,
		match.CreatedAt,
		match.UpdatedAt,
	)
	if err != nil {
		s.logger.Error("Failed to create match: %v", err)
		return common.NewPersistenceError("failed to create match", err)
	}

	s.logger.Debug("Match created successfully: %s", match.ID)
	return nil
}

// GetMatch 获取比赛
func (s *PostgreSQLStorage) GetMatch(ctx context.Context, matchID string) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(s.db.QueryRowContext(ctx, query, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("match", matchID)
	}
	if err != nil {
		s.logger.Error("Failed to get match: %v", err)
		return nil, common.NewPersistenceError("failed to get match", err)
	}
	return match, nil
}

// QueryMatches 查询比赛
func (s *PostgreSQLStorage) QueryMatches(ctx context.Context, filter MatchQuery) ([]*models.Match, error) {
	var (
		where []string
		args  []interface{}
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			statuses[i] = string(st)
		}
		args = append(args, pq.Array(statuses))
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}

	query := `SELECT ` + matchColumns + ` FROM matches`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY scheduled_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to query matches: %v", err)
		return nil, common.NewPersistenceError("failed to query matches", err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, err := scanMatch(rows)
		if err != nil {
			return nil, common.NewPersistenceError("failed to scan match", err)
		}
		matches = append(matches, match)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewPersistenceError("failed to read matches", err)
	}
	return matches, nil
}

// DeleteMatch removes the match; live_events rows go with it via ON DELETE CASCADE.
func (s *PostgreSQLStorage) DeleteMatch(ctx context.Context, matchID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM matches WHERE id = $1`, matchID)
	if err != nil {
		s.logger.Error("Failed to delete match: %v", err)
		return common.NewPersistenceError("failed to delete match", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return common.NewNotFoundError("match", matchID)
	}

	s.logger.Info("Match deleted: %s", matchID)
	return nil
}

func (s *PostgreSQLStorage) SaveLineup(ctx context.Context, matchID string, lineup models.Lineup) (*models.Match, error) {
	lineupJSON, err := json.Marshal(lineup)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lineup: %w", err)
	}

	query := `
		UPDATE matches SET lineup = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND status <> $3
		RETURNING ` + matchColumns

	match, err := scanMatch(s.db.QueryRowContext(ctx, query, matchID, lineupJSON, string(models.MatchStatusFullTime)))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetMatch(ctx, matchID); getErr != nil {
			return nil, getErr
		}
		return nil, common.NewInvalidTransitionError(string(models.MatchStatusFullTime), "lineup change")
	}
	if err != nil {
		s.logger.Error("Failed to save lineup: %v", err)
		return nil, common.NewPersistenceError("failed to save lineup", err)
	}
	return match, nil
}

// ApplyUpdate runs the projection update and the event insert in one
// transaction. The match row is locked first, so writers for the same match
// are serialised and CheckTransition sees the committed state.
func (s *PostgreSQLStorage) ApplyUpdate(ctx context.Context, u *LiveUpdate) (*UpdateResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, common.NewPersistenceError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	current, err := scanMatch(tx.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, u.MatchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("match", u.MatchID)
	}
	if err != nil {
		return nil, common.NewPersistenceError("failed to lock match", err)
	}

	if u.RequestID != "" {
		existing, err := scanEvent(tx.QueryRowContext(ctx,
			`SELECT `+eventColumns+` FROM live_events WHERE match_id = $1 AND request_id = $2`,
			u.MatchID, u.RequestID))
		if err == nil {
			s.logger.Info("Replayed request %s for match %s", u.RequestID, u.MatchID)
			return &UpdateResult{Match: current, Event: existing, Replayed: true}, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewPersistenceError("failed to look up request", err)
		}
	}

	if err := CheckTransition(current, u); err != nil {
		return nil, err
	}

	lineup := current.Lineup
	if u.Lineup != nil {
		lineup = *u.Lineup
	}
	lineupJSON, err := json.Marshal(lineup)
	if err != nil {
		return nil, common.NewPersistenceError("failed to marshal lineup", err)
	}
	payloadJSON, err := models.EncodePayload(u.Payload)
	if err != nil {
		return nil, common.NewPersistenceError("failed to marshal payload", err)
	}

	next, err := scanMatch(tx.QueryRowContext(ctx, `
		UPDATE matches SET
			home_score = $2,
			away_score = $3,
			status = $4,
			lineup = $5,
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+matchColumns,
		u.MatchID, u.Score.Home, u.Score.Away, string(u.Status), lineupJSON,
	))
	if err != nil {
		return nil, common.NewPersistenceError("failed to update match", err)
	}

	event, err := scanEvent(tx.QueryRowContext(ctx, `
		INSERT INTO live_events (id, match_id, kind, text, home_score, away_score, payload, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+eventColumns,
		uuid.NewString(), u.MatchID, string(u.Payload.Kind()), u.Text,
		u.Score.Home, u.Score.Away, payloadJSON, nullString(u.RequestID),
	))
	if err != nil {
		return nil, common.NewPersistenceError("failed to insert event", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, common.NewPersistenceError("failed to commit", err)
	}

	s.logger.Debug("Committed %s for match %s (seq %d)", event.Kind(), u.MatchID, event.Seq)
	return &UpdateResult{Match: next, Event: event}, nil
}

// GetEvents 获取比赛事件, newest first
func (s *PostgreSQLStorage) GetEvents(ctx context.Context, matchID string, limit int) ([]*models.LiveEvent, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM matches WHERE id = $1)`, matchID).Scan(&exists); err != nil {
		return nil, common.NewPersistenceError("failed to check match", err)
	}
	if !exists {
		return nil, common.NewNotFoundError("match", matchID)
	}
	return s.queryEvents(ctx, s.db, matchID, limit)
}

// GetSnapshot reads the match and its events inside one REPEATABLE READ
// transaction, so both come from the same database snapshot.
func (s *PostgreSQLStorage) GetSnapshot(ctx context.Context, matchID string, limit int) (*models.Match, []*models.LiveEvent, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, nil, common.NewPersistenceError("failed to begin snapshot", err)
	}
	defer tx.Rollback()

	match, err := scanMatch(tx.QueryRowContext(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, matchID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, common.NewNotFoundError("match", matchID)
	}
	if err != nil {
		return nil, nil, common.NewPersistenceError("failed to get match", err)
	}

	events, err := s.queryEvents(ctx, tx, matchID, limit)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, common.NewPersistenceError("failed to end snapshot", err)
	}
	return match, events, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *PostgreSQLStorage) queryEvents(ctx context.Context, q queryer, matchID string, limit int) ([]*models.LiveEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM live_events WHERE match_id = $1 ORDER BY created_at DESC, seq DESC`
	args := []interface{}{matchID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Error("Failed to get events: %v", err)
		return nil, common.NewPersistenceError("failed to get events", err)
	}
	defer rows.Close()

	events := make([]*models.LiveEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, common.NewPersistenceError("failed to scan event", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewPersistenceError("failed to read events", err)
	}
	return events, nil
}

func (s *PostgreSQLStorage) FindByRequestID(ctx context.Context, matchID, requestID string) (*models.LiveEvent, error) {
	event, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM live_events WHERE match_id = $1 AND request_id = $2`, matchID, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewNotFoundError("request", requestID)
	}
	if err != nil {
		return nil, common.NewPersistenceError("failed to look up request", err)
	}
	return event, nil
}

func (s *PostgreSQLStorage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var (
		match      models.Match
		clubSide   string
		status     string
		lineupJSON []byte
	)
	err := row.Scan(
		&match.ID,
		&match.HomeTeam.Name,
		&match.HomeTeam.LogoURL,
		&match.AwayTeam.Name,
		&match.AwayTeam.LogoURL,
		&clubSide,
		&match.ScheduledAt,
		&match.Venue,
		&match.Competition,
		&status,
		&match.Score.Home,
		&match.Score.Away,
		&lineupJSON,
		&match.Version,
		&match.CreatedAt,
		&match.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	match.ClubSide = models.Side(clubSide)
	match.Status = models.MatchStatus(status)
	if len(lineupJSON) > 0 {
		if err := json.Unmarshal(lineupJSON, &match.Lineup); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lineup: %w", err)
		}
	}
	return &match, nil
}

func scanEvent(row rowScanner) (*models.LiveEvent, error) {
	var (
		event       models.LiveEvent
		kind        string
		score       models.Score
		payloadJSON []byte
		requestID   sql.NullString
	)
	err := row.Scan(
		&event.ID,
		&event.MatchID,
		&event.Seq,
		&kind,
		&event.Text,
		&score.Home,
		&score.Away,
		&payloadJSON,
		&requestID,
		&event.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	payload, err := models.DecodePayload(models.EventKind(kind), payloadJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	event.Payload = payload
	event.Score = &score
	event.RequestID = requestID.String
	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
