package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"resume-pipeline/domain"
)

// NewMySQLConnection opens the database and migrates the job schema.
func NewMySQLConnection(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("DB_DSN is not set in environment")
	}

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Job{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

// MySQLStatusStore persists jobs through gorm.
type MySQLStatusStore struct {
	db *gorm.DB
}

func NewMySQLStatusStore(db *gorm.DB) *MySQLStatusStore {
	return &MySQLStatusStore{db: db}
}

// Create inserts a freshly uploaded job.
func (s *MySQLStatusStore) Create(ctx context.Context, job *domain.Job) error {
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

func (s *MySQLStatusStore) Get(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	var job domain.Job
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return &job, nil
}

// UpdateStatus writes a status transition. An empty errorMessage leaves the
// stored message untouched: error messages are set on failure and never
// cleared automatically.
func (s *MySQLStatusStore) UpdateStatus(ctx context.Context, jobID, ownerID string, status domain.Status, errorMessage string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if errorMessage != "" {
		updates["error_message"] = errorMessage
	}

	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update status for job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MySQLStatusStore) WriteParsed(ctx context.Context, jobID, ownerID string, fields *domain.ResumeFields) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode parsed fields for job %s: %w", jobID, err)
	}
	encoded := string(data)

	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		Updates(map[string]interface{}{
			"parsed_json": &encoded,
			"updated_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("write parsed fields for job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *MySQLStatusStore) WriteScored(ctx context.Context, jobID, ownerID string, payload *domain.ScorePayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode score for job %s: %w", jobID, err)
	}
	encoded := string(data)

	res := s.db.WithContext(ctx).
		Model(&domain.Job{}).
		Where("id = ? AND owner_id = ?", jobID, ownerID).
		Updates(map[string]interface{}{
			"score_json": &encoded,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("write score for job %s: %w", jobID, res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
