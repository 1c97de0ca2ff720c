// Package repository хранит маркеры и результаты симуляций.
// Реализации: in-memory для разработки и PostgreSQL для продакшна,
// выбор через database.driver.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"urbansim/pkg/config"
	"urbansim/pkg/database"
	"urbansim/pkg/geo"
)

// Статусы результата симуляции
const (
	ResultStatusCompleted = "completed"
	ResultStatusFailed    = "failed"
)

// Marker сохранённый маркер
type Marker struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Coordinate geo.Point `json:"coordinates"`
	CreatedAt  time.Time `json:"created_at"`
}

// SimulationResult сохранённый итог прогона
type SimulationResult struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	MarkerIDs  []string        `json:"marker_ids"`
	Metrics    json.RawMessage `json:"metrics"`
	Summary    json.RawMessage `json:"summary"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// MarkerRepository операции над маркерами
type MarkerRepository interface {
	Create(ctx context.Context, m *Marker) error
	List(ctx context.Context) ([]Marker, error)
	DeleteAll(ctx context.Context) error
}

// ResultRepository операции над результатами симуляций
type ResultRepository interface {
	Save(ctx context.Context, r *SimulationResult) error
	Get(ctx context.Context, id string) (*SimulationResult, error)
	List(ctx context.Context, limit int) ([]SimulationResult, error)
}

// Repositories набор хранилищ сервиса
type Repositories struct {
	Markers MarkerRepository
	Results ResultRepository
}

// New создаёт хранилища по конфигурации: postgres при driver=postgres,
// иначе in-memory
func New(cfg *config.DatabaseConfig, db database.DB) *Repositories {
	if cfg != nil && cfg.Driver == "postgres" && db != nil {
		return &Repositories{
			Markers: NewPostgresMarkerRepository(db),
			Results: NewPostgresResultRepository(db),
		}
	}
	return &Repositories{
		Markers: NewMemoryMarkerRepository(),
		Results: NewMemoryResultRepository(),
	}
}
