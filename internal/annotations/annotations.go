package annotations

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// AnnotationType represents the type of annotation
type AnnotationType string

const (
	AnnotationDeployment AnnotationType = "deployment"
	AnnotationCampaign   AnnotationType = "campaign"
	AnnotationIncident   AnnotationType = "incident"
	AnnotationGeneral    AnnotationType = "general"
)

var (
	ErrTitleRequired  = errors.New("annotation title is required")
	ErrFunnelRequired = errors.New("funnel ID is required")
	ErrDateRequired   = errors.New("annotation date is required")
	ErrInvalidType    = errors.New("invalid annotation type")
	ErrNotFound       = errors.New("annotation not found")
)

// Annotation marks a point on a funnel's timeline, such as a release or a
// campaign launch.
type Annotation struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	FunnelID       uint           `gorm:"not null;index:idx_annotations_funnel_date" json:"funnel_id"`
	Title          string         `gorm:"not null;size:255" json:"title"`
	Description    string         `gorm:"size:1000" json:"description"`
	AnnotationType AnnotationType `gorm:"size:50;default:'general'" json:"annotation_type"`
	AnnotationDate time.Time      `gorm:"not null;index:idx_annotations_funnel_date" json:"annotation_date"`
	Color          string         `gorm:"size:20;default:'#6366f1'" json:"color"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Annotation) TableName() string {
	return "annotations"
}

// ValidAnnotationTypes returns all valid annotation types
func ValidAnnotationTypes() []AnnotationType {
	return []AnnotationType{
		AnnotationDeployment,
		AnnotationCampaign,
		AnnotationIncident,
		AnnotationGeneral,
	}
}

// IsValidAnnotationType checks if the given type is valid
func IsValidAnnotationType(t AnnotationType) bool {
	for _, valid := range ValidAnnotationTypes() {
		if t == valid {
			return true
		}
	}
	return false
}

// DateFormats are the accepted input layouts for annotation dates.
var DateFormats = []string{
	"2006-01-02T15:04", // HTML datetime-local format
	"2006-01-02",
	time.RFC3339,
}

// ParseDate parses a date in any of DateFormats, returning it in UTC.
func ParseDate(value string) (time.Time, bool) {
	for _, format := range DateFormats {
		if parsed, err := time.Parse(format, strings.TrimSpace(value)); err == nil {
			return parsed.UTC(), true
		}
	}
	return time.Time{}, false
}

func validate(annotation *Annotation) error {
	annotation.Title = strings.TrimSpace(annotation.Title)
	if annotation.Title == "" {
		return ErrTitleRequired
	}
	if annotation.AnnotationDate.IsZero() {
		return ErrDateRequired
	}
	if annotation.AnnotationType == "" {
		annotation.AnnotationType = AnnotationGeneral
	}
	if !IsValidAnnotationType(annotation.AnnotationType) {
		return fmt.Errorf("%w: %s", ErrInvalidType, annotation.AnnotationType)
	}
	if annotation.Color == "" {
		annotation.Color = GetAnnotationTypeColor(annotation.AnnotationType)
	}
	return nil
}

// CreateAnnotation creates a new annotation in the database
func CreateAnnotation(db *gorm.DB, annotation *Annotation) error {
	if annotation.FunnelID == 0 {
		return ErrFunnelRequired
	}
	if err := validate(annotation); err != nil {
		return err
	}

	now := time.Now().UTC()
	annotation.AnnotationDate = annotation.AnnotationDate.UTC()
	annotation.CreatedAt = now
	annotation.UpdatedAt = now

	if err := db.Create(annotation).Error; err != nil {
		return fmt.Errorf("failed to create annotation: %w", err)
	}
	return nil
}

// GetAnnotationByID retrieves an annotation by ID and funnel ID
func GetAnnotationByID(db *gorm.DB, id uint, funnelID uint) (*Annotation, error) {
	var annotation Annotation
	err := db.Where("id = ? AND funnel_id = ?", id, funnelID).First(&annotation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return &annotation, nil
}

// GetAnnotationsForFunnel retrieves all annotations for a funnel, newest first
func GetAnnotationsForFunnel(db *gorm.DB, funnelID uint) ([]Annotation, error) {
	annotations := []Annotation{}
	err := db.Where("funnel_id = ?", funnelID).
		Order("annotation_date DESC").
		Find(&annotations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	return annotations, nil
}

// GetAnnotationsForTimeframe retrieves annotations within a specific time range
func GetAnnotationsForTimeframe(db *gorm.DB, funnelID uint, from, to time.Time) ([]Annotation, error) {
	annotations := []Annotation{}
	err := db.Where("funnel_id = ? AND annotation_date >= ? AND annotation_date <= ?",
		funnelID, from.UTC(), to.UTC()).
		Order("annotation_date ASC").
		Find(&annotations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	return annotations, nil
}

// UpdateAnnotation updates an existing annotation
func UpdateAnnotation(db *gorm.DB, annotation *Annotation) error {
	if annotation.ID == 0 {
		return fmt.Errorf("annotation ID is required")
	}
	if err := validate(annotation); err != nil {
		return err
	}

	annotation.AnnotationDate = annotation.AnnotationDate.UTC()
	annotation.UpdatedAt = time.Now().UTC()

	// Only update specific fields to prevent overwriting funnel_id
	return db.Model(annotation).
		Select("title", "description", "annotation_type", "annotation_date", "color", "updated_at").
		Updates(annotation).Error
}

// DeleteAnnotation deletes an annotation by ID and funnel ID
func DeleteAnnotation(db *gorm.DB, id uint, funnelID uint) error {
	result := db.Where("id = ? AND funnel_id = ?", id, funnelID).Delete(&Annotation{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete annotation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetAnnotationTypeColor returns a default color for each annotation type
func GetAnnotationTypeColor(t AnnotationType) string {
	switch t {
	case AnnotationDeployment:
		return "#22c55e" // green-500
	case AnnotationCampaign:
		return "#3b82f6" // blue-500
	case AnnotationIncident:
		return "#ef4444" // red-500
	default:
		return "#6366f1" // indigo-500
	}
}
