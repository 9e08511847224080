// Package store implements a reference PublishedAPIStore backed by
// GORM+Postgres, grounded on the teacher's internal/pkg/database
// connection setup. Spec §3 treats PublishedAPI as read-only to the
// execution core; this store is the swappable collaborator the
// dispatch gateway resolves api_id/endpoint_path lookups through.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PublishedAPI is spec §3's P: the stored record the dispatch gateway
// resolves before acquiring an executor. validate tags are checked by
// the dispatch gateway before the record's FlowDefinition reaches C1.
type PublishedAPI struct {
	ID             string `gorm:"primaryKey" validate:"required"`
	EndpointPath   string `gorm:"uniqueIndex" validate:"required"`
	Version        string `validate:"required"`
	IsActive       bool
	APIName        string `validate:"required"`
	FlowDefinition string `validate:"required"` // raw JSON, parsed by the dispatch gateway
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var ErrNotFound = errors.New("store: published api not found")

// PublishedAPIStore is the collaborator interface the dispatch gateway
// depends on; core components never construct or reach into it
// directly.
type PublishedAPIStore interface {
	GetByEndpointPath(ctx context.Context, path string) (*PublishedAPI, error)
	GetByID(ctx context.Context, id string) (*PublishedAPI, error)
}

// GormStore is the reference Postgres-backed implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a GORM connection the way the teacher's
// internal/pkg/database.NewGormDB does: postgres.Open(dsn) with a
// quiet logger in production.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PublishedAPI{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) GetByEndpointPath(ctx context.Context, path string) (*PublishedAPI, error) {
	var api PublishedAPI
	if err := s.db.WithContext(ctx).Where("endpoint_path = ?", path).First(&api).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &api, nil
}

func (s *GormStore) GetByID(ctx context.Context, id string) (*PublishedAPI, error) {
	var api PublishedAPI
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&api).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &api, nil
}

// InMemoryStore is a test/dev-friendly PublishedAPIStore with no
// external dependency, used by cmd/server when no database DSN is
// configured and by package tests.
type InMemoryStore struct {
	byPath map[string]*PublishedAPI
	byID   map[string]*PublishedAPI
}

func NewInMemoryStore(apis ...*PublishedAPI) *InMemoryStore {
	s := &InMemoryStore{byPath: map[string]*PublishedAPI{}, byID: map[string]*PublishedAPI{}}
	for _, a := range apis {
		s.byPath[a.EndpointPath] = a
		s.byID[a.ID] = a
	}
	return s
}

func (s *InMemoryStore) GetByEndpointPath(ctx context.Context, path string) (*PublishedAPI, error) {
	if a, ok := s.byPath[path]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) GetByID(ctx context.Context, id string) (*PublishedAPI, error) {
	if a, ok := s.byID[id]; ok {
		return a, nil
	}
	return nil, ErrNotFound
}
