package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrAppNotFound is returned when no app exists for an id.
var ErrAppNotFound = errors.New("conversation: app not found")

// App is a resource that owns a conversation and a source repository.
type App struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Name      string    `json:"name" gorm:"size:255;not null"`
	GitRepo   string    `json:"git_repo" gorm:"size:255"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 指定表名
func (App) TableName() string {
	return "apps"
}

// AppStore looks up and registers apps.
type AppStore interface {
	GetApp(ctx context.Context, id string) (*App, error)
	CreateApp(ctx context.Context, app *App) error
}

// GormAppStore keeps apps in the SQL database.
type GormAppStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormAppStore creates a gorm-backed app store.
func NewGormAppStore(db *gorm.DB, logger *zap.Logger) *GormAppStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormAppStore{db: db, logger: logger.With(zap.String("component", "app_store"))}
}

// AutoMigrate creates or updates the apps table.
func (s *GormAppStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&App{}); err != nil {
		return fmt.Errorf("failed to auto migrate apps: %w", err)
	}
	return nil
}

// GetApp returns ErrAppNotFound for unknown ids.
func (s *GormAppStore) GetApp(ctx context.Context, id string) (*App, error) {
	var app App
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&app).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get app %s: %w", id, err)
	}
	return &app, nil
}

// CreateApp inserts an app, assigning an id when empty.
func (s *GormAppStore) CreateApp(ctx context.Context, app *App) error {
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(app).Error; err != nil {
		return fmt.Errorf("create app %s: %w", app.ID, err)
	}
	s.logger.Info("app created", zap.String("app_id", app.ID), zap.String("name", app.Name))
	return nil
}

// MemoryAppStore 内存应用存储
type MemoryAppStore struct {
	mu   sync.RWMutex
	apps map[string]App
}

// NewMemoryAppStore creates a store holding the given apps.
func NewMemoryAppStore(apps ...App) *MemoryAppStore {
	s := &MemoryAppStore{apps: make(map[string]App, len(apps))}
	for _, a := range apps {
		s.apps[a.ID] = a
	}
	return s
}

// GetApp 获取应用
func (s *MemoryAppStore) GetApp(_ context.Context, id string) (*App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, ErrAppNotFound
	}
	return &app, nil
}

// CreateApp 创建应用
func (s *MemoryAppStore) CreateApp(_ context.Context, app *App) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if app.ID == "" {
		app.ID = uuid.NewString()
	}
	if _, ok := s.apps[app.ID]; ok {
		return fmt.Errorf("create app %s: already exists", app.ID)
	}
	now := time.Now()
	app.CreatedAt, app.UpdatedAt = now, now
	s.apps[app.ID] = *app
	return nil
}
