package icd

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
)

// Synonym maps a clinical phrase to an ICD-10-CM code.
type Synonym struct {
	ID          uint   `gorm:"primaryKey"`
	Description string `gorm:"size:512;index"`
	ICD         string `gorm:"column:icd;size:16"`
}

func (Synonym) TableName() string { return "icd_synonyms" }

// Code is one billable ICD-10-CM code. Compact is the code without dots.
type Code struct {
	Code        string `gorm:"primaryKey;size:16"`
	Compact     string `gorm:"size:16;uniqueIndex"`
	Description string `gorm:"size:512"`
}

func (Code) TableName() string { return "icd_codes" }

// Catalog resolves conditions against the reference tables.
type Catalog interface {
	LookupSynonym(ctx context.Context, condition string) (string, bool, error)
	LookupCode(ctx context.Context, code string) (*Code, bool, error)
}

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&Synonym{}, &Code{})
}

// LookupSynonym tries an exact case-insensitive match first, then a substring match.
func (r *Repository) LookupSynonym(ctx context.Context, condition string) (string, bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return "", false, nil
	}

	var s Synonym
	err := r.db.WithContext(ctx).Where("LOWER(description) = LOWER(?)", condition).Take(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = r.db.WithContext(ctx).Where("LOWER(description) LIKE LOWER(?)", "%"+condition+"%").Take(&s).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return s.ICD, true, nil
}

func (r *Repository) LookupCode(ctx context.Context, code string) (*Code, bool, error) {
	var c Code
	err := r.db.WithContext(ctx).Where("compact = ?", Compact(code)).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &c, true, nil
}

// Compact strips dots and whitespace and upper-cases a code.
func Compact(code string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), ".", ""))
}
