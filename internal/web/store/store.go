package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rizkirmdhn/memzip/internal/common/config"
	"github.com/rizkirmdhn/memzip/pkg/models"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned for an unknown job ID
var ErrNotFound = errors.New("job not found")

// Job is the history row of one archive batch
type Job struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	Source    string           `gorm:"size:255" json:"source"`
	Status    models.JobStatus `gorm:"size:16;index" json:"status"`
	Total     int              `json:"total"`
	Processed int              `json:"processed"`
	Failed    int              `json:"failed"`
	Videos    int              `json:"videos"`
	Images    int              `json:"images"`
	Error     string           `gorm:"size:1024" json:"error,omitempty"`
	Archive   string           `gorm:"size:255" json:"archive,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName overrides the table name
func (Job) TableName() string {
	return "jobs"
}

// Store keeps the job history in sqlite and the latest snapshots of running jobs in memory
type Store struct {
	db   *gorm.DB
	live *cache.Cache
	log  *logrus.Logger
}

// Open opens the history database, creating its directory and schema when needed
func Open(cfg *config.WebPanelConfig, log *logrus.Logger) (*Store, error) {
	if err := ensureDir(filepath.Dir(cfg.HistoryDB)); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(cfg.HistoryDB), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&Job{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	ttl := time.Duration(cfg.JobTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}

	log.WithFields(logrus.Fields{
		"component": "store",
		"path":      cfg.HistoryDB,
	}).Info("Job history opened")

	return &Store{
		db:   db,
		live: cache.New(ttl, 10*time.Minute),
		log:  log,
	}, nil
}

// Create inserts a new job
func (s *Store) Create(job *Job) error {
	return s.db.Create(job).Error
}

// Get returns the history row of a job
func (s *Store) Get(id string) (*Job, error) {
	var job Job
	if err := s.db.First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// List returns the most recent jobs first
func (s *Store) List(limit int) ([]Job, error) {
	var jobs []Job
	q := s.db.Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Apply records a job log: the snapshot goes to the live cache and the history row is updated
func (s *Store) Apply(l models.JobLog) (*Job, error) {
	s.live.Set(l.JobID, l, cache.DefaultExpiration)

	updates := map[string]interface{}{
		"status": l.Status,
	}
	if l.Progress != nil {
		updates["total"] = l.Progress.Total
		updates["processed"] = l.Progress.Processed
		updates["failed"] = l.Progress.Failed()
	}
	if l.Error != "" {
		updates["error"] = l.Error
	}
	if l.Archive != "" {
		updates["archive"] = l.Archive
	}

	res := s.db.Model(&Job{}).Where("id = ?", l.JobID).Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}

	return s.Get(l.JobID)
}

// Live returns the latest job log received for a job
func (s *Store) Live(id string) (models.JobLog, bool) {
	v, ok := s.live.Get(id)
	if !ok {
		return models.JobLog{}, false
	}
	return v.(models.JobLog), true
}

// Close closes the database connection
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureDir creates dir when it does not exist
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
