package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"urbansim/pkg/apperror"
)

// MemoryMarkerRepository хранит маркеры в памяти. Записи сериализуются
// мьютексом, порядок вставки сохраняется.
type MemoryMarkerRepository struct {
	mu      sync.RWMutex
	markers []Marker
}

// NewMemoryMarkerRepository создаёт пустое хранилище маркеров
func NewMemoryMarkerRepository() *MemoryMarkerRepository {
	return &MemoryMarkerRepository{}
}

// Create сохраняет маркер, назначая id и created_at при их отсутствии
func (r *MemoryMarkerRepository) Create(_ context.Context, m *Marker) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	r.markers = append(r.markers, *m)
	return nil
}

// List возвращает маркеры в порядке добавления
func (r *MemoryMarkerRepository) List(_ context.Context) ([]Marker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Marker, len(r.markers))
	copy(out, r.markers)
	return out, nil
}

// DeleteAll удаляет все маркеры
func (r *MemoryMarkerRepository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markers = nil
	return nil
}

// MemoryResultRepository хранит результаты симуляций в памяти
type MemoryResultRepository struct {
	mu      sync.RWMutex
	results map[string]SimulationResult
}

// NewMemoryResultRepository создаёт пустое хранилище результатов
func NewMemoryResultRepository() *MemoryResultRepository {
	return &MemoryResultRepository{
		results: make(map[string]SimulationResult),
	}
}

// Save сохраняет результат, назначая id и created_at при их отсутствии
func (r *MemoryResultRepository) Save(_ context.Context, res *SimulationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}

	r.results[res.ID] = *res
	return nil
}

// Get возвращает результат по id
func (r *MemoryResultRepository) Get(_ context.Context, id string) (*SimulationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res, ok := r.results[id]
	if !ok {
		return nil, apperror.New(apperror.CodeNotFound, "simulation result not found").WithDetails("id", id)
	}
	return &res, nil
}

// List возвращает результаты, новые первыми
func (r *MemoryResultRepository) List(_ context.Context, limit int) ([]SimulationResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SimulationResult, 0, len(r.results))
	for _, res := range r.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
