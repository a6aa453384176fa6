package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"strategy-backtester/internal/model"
)

// StrategyStore persists strategy templates, keyed by strategyId with
// last-write-wins semantics.
type StrategyStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewStrategyStore(pool *pgxpool.Pool, logger *zap.Logger) *StrategyStore {
	return &StrategyStore{pool: pool, logger: logger}
}

// Save upserts a template and returns it unchanged.
func (s *StrategyStore) Save(ctx context.Context, template *model.StrategyTemplate) (*model.StrategyTemplate, error) {
	body, err := json.Marshal(template)
	if err != nil {
		return nil, fmt.Errorf("marshal strategy template: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO strategies (id, name, template, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, template = $3, updated_at = $4`,
		template.StrategyID, template.StrategyName, body, time.Now())
	if err != nil {
		return nil, fmt.Errorf("save strategy %s: %w", template.StrategyID, err)
	}

	s.logger.Info("strategy saved", zap.String("id", template.StrategyID), zap.String("name", template.StrategyName))
	return template, nil
}

// List returns all stored templates, most recently updated first.
func (s *StrategyStore) List(ctx context.Context) ([]model.StrategyTemplate, error) {
	rows, err := s.pool.Query(ctx, `SELECT template FROM strategies ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list strategies: %w", err)
	}
	defer rows.Close()

	templates := make([]model.StrategyTemplate, 0)
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan strategy row: %w", err)
		}
		var t model.StrategyTemplate
		if err := json.Unmarshal(body, &t); err != nil {
			s.logger.Warn("skipping unreadable strategy row", zap.Error(err))
			continue
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// GetByID returns a template, or nil when the id is unknown.
func (s *StrategyStore) GetByID(ctx context.Context, id string) (*model.StrategyTemplate, error) {
	var body []byte
	err := s.pool.QueryRow(ctx, `SELECT template FROM strategies WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get strategy %s: %w", id, err)
	}

	var t model.StrategyTemplate
	if err := json.Unmarshal(body, &t); err != nil {
		return nil, fmt.Errorf("decode strategy %s: %w", id, err)
	}
	return &t, nil
}

// Remove deletes a template and reports whether it existed.
func (s *StrategyStore) Remove(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM strategies WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("remove strategy %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// InitSchema creates the strategies table when it is missing.
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS strategies (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			template JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create strategies table: %w", err)
	}
	return nil
}
