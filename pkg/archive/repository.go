package archive

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("archived recommendation not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Recommendation{}, &DeadLetter{})
}

// SaveRecommendation is idempotent on the event id so redelivered events are ignored.
func (r *Repository) SaveRecommendation(ctx context.Context, rec *Recommendation) error {
	rec.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}

func (r *Repository) SaveDeadLetter(ctx context.Context, dl *DeadLetter) error {
	dl.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(dl).Error
}

// LatestRecommendation returns the most recent archived recommendation for a patient.
func (r *Repository) LatestRecommendation(ctx context.Context, patientID string) (*Recommendation, error) {
	var rec Recommendation
	result := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("completed_at DESC").
		First(&rec)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &rec, nil
}

func (r *Repository) CleanupExpired(ctx context.Context, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-ttl)
	if err := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&Recommendation{}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&DeadLetter{}).Error
}
