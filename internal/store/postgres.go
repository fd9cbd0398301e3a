package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/modeltrain/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RecordTraining upserts the machine row by name. Columns without a matching
// option keep their stored value.
func (s *PostgresStore) RecordTraining(ctx context.Context, name string, opts ...TrainingOption) error {
	p := BuildTraining(opts...)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO machines (name, status, training_progress, updated_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (name) DO UPDATE SET
		   status = COALESCE(EXCLUDED.status, machines.status),
		   training_progress = COALESCE(EXCLUDED.training_progress, machines.training_progress),
		   updated_at = NOW()`,
		name, p.Status, p.Progress)
	if err != nil {
		return fmt.Errorf("record training for %s: %w", name, err)
	}
	return nil
}

func (s *PostgresStore) ListMachines(ctx context.Context) ([]*models.Machine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT name, status, last_inference_results, training_progress, updated_at
		 FROM machines ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	defer rows.Close()

	machines := []*models.Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

func (s *PostgresStore) GetMachine(ctx context.Context, name string) (*models.Machine, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT name, status, last_inference_results, training_progress, updated_at
		 FROM machines WHERE name = $1`, name)
	m, err := scanMachine(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func scanMachine(row pgx.Row) (*models.Machine, error) {
	var m models.Machine
	var results *string
	if err := row.Scan(&m.Name, &m.Status, &results, &m.TrainingProgress, &m.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan machine: %w", err)
	}
	if results != nil {
		m.LastInferenceResults = ParseResults(*results)
	}
	return &m, nil
}

// ParseResults reads a comma separated list of numbers. Parts that do not
// parse are skipped; nil is returned when nothing parses.
func ParseResults(raw string) []float64 {
	var out []float64
	for part := range strings.SplitSeq(raw, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}
