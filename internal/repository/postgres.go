package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"urbansim/pkg/apperror"
	"urbansim/pkg/database"
	"urbansim/pkg/telemetry"
)

// PostgresMarkerRepository хранит маркеры в PostgreSQL
type PostgresMarkerRepository struct {
	db database.DB
}

// NewPostgresMarkerRepository создаёт репозиторий маркеров
func NewPostgresMarkerRepository(db database.DB) *PostgresMarkerRepository {
	return &PostgresMarkerRepository{db: db}
}

// Create сохраняет маркер, назначая id и created_at при их отсутствии
func (r *PostgresMarkerRepository) Create(ctx context.Context, m *Marker) error {
	ctx, span := telemetry.StartSpan(ctx, "repository.markers.Create")
	defer span.End()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO markers (id, type, lat, lng, created_at) VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.Type, m.Coordinate.Lat, m.Coordinate.Lng, m.CreatedAt,
	)
	if err != nil {
		telemetry.SetError(ctx, err)
		return apperror.Wrap(err, apperror.CodeInternal, "failed to create marker")
	}
	return nil
}

// List возвращает маркеры в порядке добавления
func (r *PostgresMarkerRepository) List(ctx context.Context) ([]Marker, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.markers.List")
	defer span.End()

	rows, err := r.db.Query(ctx,
		`SELECT id, type, lat, lng, created_at FROM markers ORDER BY created_at, id`)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to list markers")
	}
	defer rows.Close()

	var markers []Marker
	for rows.Next() {
		var m Marker
		if err := rows.Scan(&m.ID, &m.Type, &m.Coordinate.Lat, &m.Coordinate.Lng, &m.CreatedAt); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan marker")
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to read markers")
	}
	return markers, nil
}

// DeleteAll удаляет все маркеры
func (r *PostgresMarkerRepository) DeleteAll(ctx context.Context) error {
	ctx, span := telemetry.StartSpan(ctx, "repository.markers.DeleteAll")
	defer span.End()

	if _, err := r.db.Exec(ctx, `DELETE FROM markers`); err != nil {
		telemetry.SetError(ctx, err)
		return apperror.Wrap(err, apperror.CodeInternal, "failed to delete markers")
	}
	return nil
}

// PostgresResultRepository хранит результаты симуляций в PostgreSQL.
// При записи старые прогоны сверх retentionLimit удаляются.
type PostgresResultRepository struct {
	db database.DB
}

// retentionLimit число хранимых прогонов
const retentionLimit = 100

// NewPostgresResultRepository создаёт репозиторий результатов
func NewPostgresResultRepository(db database.DB) *PostgresResultRepository {
	return &PostgresResultRepository{db: db}
}

// Save сохраняет результат прогона и в той же транзакции подрезает
// историю до retentionLimit записей
func (r *PostgresResultRepository) Save(ctx context.Context, res *SimulationResult) error {
	ctx, span := telemetry.StartSpan(ctx, "repository.results.Save")
	defer span.End()

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	err := database.WithTransaction(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO simulation_results (id, status, marker_ids, metrics, summary, created_at, finished_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			res.ID, res.Status, pq.Array(res.MarkerIDs), res.Metrics, res.Summary, res.CreatedAt, res.FinishedAt,
		); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`DELETE FROM simulation_results WHERE id NOT IN (
			     SELECT id FROM simulation_results ORDER BY created_at DESC LIMIT $1
			 )`, retentionLimit)
		return err
	})
	if err != nil {
		telemetry.SetError(ctx, err)
		return apperror.Wrap(err, apperror.CodeInternal, "failed to save simulation result")
	}
	return nil
}

// Get возвращает результат по id
func (r *PostgresResultRepository) Get(ctx context.Context, id string) (*SimulationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.results.Get")
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT id, status, marker_ids, metrics, summary, created_at, finished_at
		 FROM simulation_results WHERE id = $1`, id)

	var res SimulationResult
	err := row.Scan(&res.ID, &res.Status, pq.Array(&res.MarkerIDs), &res.Metrics, &res.Summary, &res.CreatedAt, &res.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.CodeNotFound, "simulation result not found").WithDetails("id", id)
	}
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to get simulation result")
	}
	return &res, nil
}

// List возвращает результаты, новые первыми
func (r *PostgresResultRepository) List(ctx context.Context, limit int) ([]SimulationResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.results.List")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT id, status, marker_ids, metrics, summary, created_at, finished_at
		 FROM simulation_results ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		telemetry.SetError(ctx, err)
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to list simulation results")
	}
	defer rows.Close()

	var results []SimulationResult
	for rows.Next() {
		var res SimulationResult
		if err := rows.Scan(&res.ID, &res.Status, pq.Array(&res.MarkerIDs), &res.Metrics, &res.Summary, &res.CreatedAt, &res.FinishedAt); err != nil {
			return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to scan simulation result")
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.Wrap(err, apperror.CodeInternal, "failed to read simulation results")
	}
	return results, nil
}
