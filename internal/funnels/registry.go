package funnels

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// MaxNameLength is the longest funnel name accepted, in characters.
const MaxNameLength = 255

// CreateFunnelInput holds everything needed to create a funnel
type CreateFunnelInput struct {
	Name        string
	Description string
	Status      Status // empty means active
	Steps       []StepInput
}

// UpdateFunnelPatch lists the fields to change. Nil fields are left alone.
// A non-nil Steps replaces the whole step set, including with an empty one.
type UpdateFunnelPatch struct {
	Name        *string
	Description *string
	Status      *Status
	Steps       *[]StepInput
}

func (p UpdateFunnelPatch) isEmpty() bool {
	return p.Name == nil && p.Description == nil && p.Status == nil && p.Steps == nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", newValidationError(ErrInvalidName, "name", "funnel name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", newValidationError(ErrInvalidName, "name",
			fmt.Sprintf("funnel name must be at most %d characters", MaxNameLength))
	}
	return name, nil
}

func validateSteps(steps []StepInput) error {
	for i, step := range steps {
		if step.Target == nil {
			return newStepError(i, "step target is required")
		}
		if step.Target.ExternalID() <= 0 {
			return newStepError(i, fmt.Sprintf("%s step requires a positive external id", step.Target.Type()))
		}
	}
	return nil
}

// nameTaken checks uniqueness case-insensitively, ignoring excludeID.
func nameTaken(tx *gorm.DB, name string, excludeID uint) (bool, error) {
	var count int64
	query := tx.Model(&Funnel{}).Where("LOWER(name) = LOWER(?)", name)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check funnel name: %w", err)
	}
	return count > 0, nil
}

func insertSteps(tx *gorm.DB, funnelID uint, steps []StepInput) error {
	if len(steps) == 0 {
		return nil
	}
	rows := make([]FunnelStep, 0, len(steps))
	now := time.Now().UTC()
	for i, step := range steps {
		row := step.toModel(funnelID, i)
		row.CreatedAt = now
		rows = append(rows, row)
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert funnel steps: %w", err)
	}
	return nil
}

// CreateFunnel validates and stores a funnel together with its steps in one
// transaction. Steps get step_order = position + 1.
func CreateFunnel(db *gorm.DB, logger *slog.Logger, input CreateFunnelInput) (*Funnel, error) {
	name, err := validateName(input.Name)
	if err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = StatusActive
	}
	if !IsValidStatus(status) {
		return nil, newValidationError(ErrInvalidStatus, "status", fmt.Sprintf("unknown status %q", status))
	}

	if err := validateSteps(input.Steps); err != nil {
		return nil, err
	}

	funnel := &Funnel{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
	}

	var validationErr error
	err = sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			taken, err := nameTaken(tx, name, 0)
			if err != nil {
				return err
			}
			if taken {
				validationErr = newValidationError(ErrDuplicateName, "name", "a funnel with this name already exists")
				return validationErr
			}

			now := time.Now().UTC()
			funnel.CreatedAt = now
			funnel.UpdatedAt = now
			if err := tx.Create(funnel).Error; err != nil {
				return fmt.Errorf("failed to create funnel: %w", err)
			}
			return insertSteps(tx, funnel.ID, input.Steps)
		})
	})
	if validationErr != nil {
		return nil, validationErr
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Funnel created",
		slog.Uint64("funnel_id", uint64(funnel.ID)),
		slog.String("name", funnel.Name),
		slog.Int("steps", len(input.Steps)))

	return GetFunnel(db, funnel.ID, true)
}

// UpdateFunnel applies a patch. When the patch carries steps, every existing
// step of the funnel is deleted and the new set inserted, inside the same
// transaction as the funnel row update. Step ids are not preserved.
func UpdateFunnel(db *gorm.DB, logger *slog.Logger, id uint, patch UpdateFunnelPatch) (*Funnel, error) {
	if patch.isEmpty() {
		return nil, newValidationError(ErrNoChanges, "", "no fields to update")
	}

	updates := map[string]interface{}{}
	var name string
	if patch.Name != nil {
		validated, err := validateName(*patch.Name)
		if err != nil {
			return nil, err
		}
		name = validated
		updates["name"] = name
	}
	if patch.Description != nil {
		updates["description"] = strings.TrimSpace(*patch.Description)
	}
	if patch.Status != nil {
		if !IsValidStatus(*patch.Status) {
			return nil, newValidationError(ErrInvalidStatus, "status", fmt.Sprintf("unknown status %q", *patch.Status))
		}
		updates["status"] = *patch.Status
	}
	if patch.Steps != nil {
		if err := validateSteps(*patch.Steps); err != nil {
			return nil, err
		}
	}

	var domainErr error
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			var existing Funnel
			if err := tx.Where("id = ?", id).First(&existing).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					domainErr = NewFunnelNotFoundError(id)
					return domainErr
				}
				return fmt.Errorf("failed to load funnel: %w", err)
			}

			if patch.Name != nil {
				taken, err := nameTaken(tx, name, id)
				if err != nil {
					return err
				}
				if taken {
					domainErr = newValidationError(ErrDuplicateName, "name", "a funnel with this name already exists")
					return domainErr
				}
			}

			updates["updated_at"] = time.Now().UTC()
			if err := tx.Model(&Funnel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to update funnel: %w", err)
			}

			if patch.Steps != nil {
				if err := tx.Where("funnel_id = ?", id).Delete(&FunnelStep{}).Error; err != nil {
					return fmt.Errorf("failed to delete funnel steps: %w", err)
				}
				if err := insertSteps(tx, id, *patch.Steps); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if domainErr != nil {
		return nil, domainErr
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Funnel updated",
		slog.Uint64("funnel_id", uint64(id)),
		slog.Bool("steps_replaced", patch.Steps != nil))

	return GetFunnel(db, id, true)
}

// DeleteFunnel removes a funnel with its steps, its tracking events and its
// annotations as one transaction.
func DeleteFunnel(db *gorm.DB, logger *slog.Logger, id uint) error {
	var notFound error
	var deletedEvents int64
	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			var count int64
			if err := tx.Model(&Funnel{}).Where("id = ?", id).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to load funnel: %w", err)
			}
			if count == 0 {
				notFound = NewFunnelNotFoundError(id)
				return notFound
			}

			if err := tx.Where("funnel_id = ?", id).Delete(&FunnelStep{}).Error; err != nil {
				return fmt.Errorf("failed to delete funnel steps: %w", err)
			}
			result := tx.Exec("DELETE FROM tracking_events WHERE funnel_id = ?", id)
			if result.Error != nil {
				return fmt.Errorf("failed to delete tracking events: %w", result.Error)
			}
			deletedEvents = result.RowsAffected
			if err := tx.Exec("DELETE FROM annotations WHERE funnel_id = ?", id).Error; err != nil {
				return fmt.Errorf("failed to delete annotations: %w", err)
			}
			if err := tx.Where("id = ?", id).Delete(&Funnel{}).Error; err != nil {
				return fmt.Errorf("failed to delete funnel: %w", err)
			}
			return nil
		})
	})
	if notFound != nil {
		return notFound
	}
	if err != nil {
		return err
	}

	logger.Info("Funnel deleted",
		slog.Uint64("funnel_id", uint64(id)),
		slog.Int64("deleted_events", deletedEvents))
	return nil
}

// GetFunnel loads a funnel, optionally with its ordered steps.
func GetFunnel(db *gorm.DB, id uint, includeSteps bool) (*Funnel, error) {
	var funnel Funnel
	query := db
	if includeSteps {
		query = query.Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		})
	}
	if err := query.Where("id = ?", id).First(&funnel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, NewFunnelNotFoundError(id)
		}
		return nil, fmt.Errorf("failed to get funnel: %w", err)
	}
	if includeSteps && funnel.Steps == nil {
		funnel.Steps = []FunnelStep{}
	}
	return &funnel, nil
}

// GetSteps returns the steps of a funnel ordered by step_order.
func GetSteps(db *gorm.DB, funnelID uint) ([]FunnelStep, error) {
	var steps []FunnelStep
	if err := db.Where("funnel_id = ?", funnelID).Order("step_order ASC").Find(&steps).Error; err != nil {
		return nil, fmt.Errorf("failed to get funnel steps: %w", err)
	}
	return steps, nil
}

// ListParams controls paging, search and ordering of ListFunnels.
type ListParams struct {
	Page    int
	PerPage int
	Search  string
	OrderBy string
	Order   string
	Status  Status
}

// ListItem is a funnel row plus its step count.
type ListItem struct {
	Funnel
	StepCount int64 `json:"step_count"`
}

// ListResult is one page of funnels
type ListResult struct {
	Items      []ListItem `json:"items"`
	TotalItems int64      `json:"total_items"`
	TotalPages int        `json:"total_pages"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
}

var listOrderColumns = map[string]string{
	"id":         "id",
	"name":       "name",
	"status":     "status",
	"created_at": "created_at",
	"updated_at": "updated_at",
}

func (p ListParams) normalized() ListParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = 20
	}
	if _, ok := listOrderColumns[p.OrderBy]; !ok {
		p.OrderBy = "created_at"
	}
	if strings.ToUpper(p.Order) == "ASC" {
		p.Order = "ASC"
	} else {
		p.Order = "DESC"
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ListFunnels returns a page of funnels. Search is a case-insensitive
// substring match on name or description.
func ListFunnels(db *gorm.DB, params ListParams) (*ListResult, error) {
	params = params.normalized()

	filtered := func() *gorm.DB {
		query := db.Model(&Funnel{})
		if params.Search != "" {
			like := "%" + strings.ToLower(escapeLike(params.Search)) + "%"
			query = query.Where(`(LOWER(name) LIKE ? ESCAPE '\' OR LOWER(description) LIKE ? ESCAPE '\')`, like, like)
		}
		if params.Status != "" {
			query = query.Where("status = ?", params.Status)
		}
		return query
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count funnels: %w", err)
	}

	var rows []Funnel
	err := filtered().
		Order(fmt.Sprintf("%s %s", listOrderColumns[params.OrderBy], params.Order)).
		Order("id " + params.Order).
		Limit(params.PerPage).
		Offset((params.Page - 1) * params.PerPage).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list funnels: %w", err)
	}

	counts, err := stepCounts(db, rows)
	if err != nil {
		return nil, err
	}

	items := make([]ListItem, 0, len(rows))
	for _, f := range rows {
		items = append(items, ListItem{Funnel: f, StepCount: counts[f.ID]})
	}

	return &ListResult{
		Items:      items,
		TotalItems: total,
		TotalPages: int(math.Ceil(float64(total) / float64(params.PerPage))),
		Page:       params.Page,
		PerPage:    params.PerPage,
	}, nil
}

func stepCounts(db *gorm.DB, rows []Funnel) (map[uint]int64, error) {
	counts := make(map[uint]int64, len(rows))
	if len(rows) == 0 {
		return counts, nil
	}
	ids := make([]uint, 0, len(rows))
	for _, f := range rows {
		ids = append(ids, f.ID)
	}

	var results []struct {
		FunnelID uint
		Count    int64
	}
	err := db.Raw(`
		SELECT funnel_id, COUNT(*) AS count
		FROM funnel_steps
		WHERE funnel_id IN (`+generatePlaceholders(len(ids))+`)
		GROUP BY funnel_id
	`, toArgs(ids)...).Scan(&results).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count funnel steps: %w", err)
	}
	for _, r := range results {
		counts[r.FunnelID] = r.Count
	}
	return counts, nil
}

func generatePlaceholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []uint) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
