package funnels

import (
	"fmt"

	"gorm.io/gorm"
)

// FindActiveStepsForPage returns every step, across all active funnels, that
// points at the given page.
func FindActiveStepsForPage(db *gorm.DB, pageID int64) ([]FunnelStep, error) {
	return findActiveSteps(db, "page_id", StepTypePage, pageID)
}

// FindActiveStepsForForm returns every step, across all active funnels, that
// points at the given form.
func FindActiveStepsForForm(db *gorm.DB, formID int64) ([]FunnelStep, error) {
	return findActiveSteps(db, "form_id", StepTypeForm, formID)
}

func findActiveSteps(db *gorm.DB, column string, stepType StepType, externalID int64) ([]FunnelStep, error) {
	var steps []FunnelStep
	err := db.Table("funnel_steps AS fs").
		Select("fs.*").
		Joins("JOIN funnels f ON f.id = fs.funnel_id").
		Where("fs."+column+" = ? AND fs.step_type = ? AND f.status = ?", externalID, stepType, StatusActive).
		Order("fs.funnel_id ASC, fs.step_order ASC").
		Scan(&steps).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find steps for %s %d: %w", column, externalID, err)
	}
	return steps, nil
}
