package funnels

import (
	"time"
)

// Status is the lifecycle state of a funnel. Only active funnels receive events.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusDraft    Status = "draft"
)

// ValidStatuses returns all valid funnel statuses
func ValidStatuses() []Status {
	return []Status{StatusActive, StatusInactive, StatusDraft}
}

// IsValidStatus checks if the given status is valid
func IsValidStatus(s Status) bool {
	for _, valid := range ValidStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// StepType says what kind of interaction completes a step.
type StepType string

const (
	StepTypePage StepType = "page"
	StepTypeForm StepType = "form"
)

// StepTarget is the external object a step points at. It is either a
// PageTarget or a FormTarget, never both.
type StepTarget interface {
	Type() StepType
	ExternalID() int64
}

// PageTarget is a step completed by viewing a page.
type PageTarget struct {
	PageID int64
}

func (PageTarget) Type() StepType      { return StepTypePage }
func (t PageTarget) ExternalID() int64 { return t.PageID }

// FormTarget is a step completed by submitting (or advancing) a form.
type FormTarget struct {
	FormID int64
}

func (FormTarget) Type() StepType      { return StepTypeForm }
func (t FormTarget) ExternalID() int64 { return t.FormID }

// Funnel is an ordered sequence of tracked steps.
type Funnel struct {
	ID          uint         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string       `gorm:"uniqueIndex;not null;size:255" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	Status      Status       `gorm:"size:20;not null;default:'active';index" json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Steps       []FunnelStep `gorm:"foreignKey:FunnelID" json:"steps,omitempty"`
}

// TableName specifies the table name for GORM
func (Funnel) TableName() string {
	return "funnels"
}

// FunnelStep is one stage of a funnel. StepOrder is 1-based and dense.
type FunnelStep struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	FunnelID  uint      `gorm:"not null;uniqueIndex:idx_funnel_steps_order" json:"funnel_id"`
	StepOrder int       `gorm:"not null;uniqueIndex:idx_funnel_steps_order" json:"step_order"`
	StepType  StepType  `gorm:"size:20;not null" json:"step_type"`
	StepName  string    `gorm:"size:255;not null;default:''" json:"step_name"`
	PageID    *int64    `gorm:"index" json:"page_id"`
	FormID    *int64    `gorm:"index" json:"form_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (FunnelStep) TableName() string {
	return "funnel_steps"
}

// Target rebuilds the typed target from the stored columns. It returns nil
// for a row whose type and id columns disagree.
func (s FunnelStep) Target() StepTarget {
	switch s.StepType {
	case StepTypePage:
		if s.PageID != nil {
			return PageTarget{PageID: *s.PageID}
		}
	case StepTypeForm:
		if s.FormID != nil {
			return FormTarget{FormID: *s.FormID}
		}
	}
	return nil
}

// StepInput describes a step to be written. Order comes from its position.
type StepInput struct {
	Name   string
	Target StepTarget
}

// toModel builds the row for the step at the given position.
func (in StepInput) toModel(funnelID uint, position int) FunnelStep {
	step := FunnelStep{
		FunnelID:  funnelID,
		StepOrder: position + 1,
		StepType:  in.Target.Type(),
		StepName:  in.Name,
	}
	id := in.Target.ExternalID()
	switch in.Target.(type) {
	case PageTarget:
		step.PageID = &id
	case FormTarget:
		step.FormID = &id
	}
	return step
}

// StepParams is the loose wire shape of a step, as posted by admin clients
// and funnel definition files.
type StepParams struct {
	StepType string `json:"step_type" yaml:"type"`
	StepName string `json:"step_name" yaml:"name"`
	PageID   int64  `json:"page_id" yaml:"page_id"`
	FormID   int64  `json:"form_id" yaml:"form_id"`
}

// ToStepInput converts the loose shape into a typed step, rejecting a type
// without its matching external id.
func (p StepParams) ToStepInput(position int) (StepInput, error) {
	switch StepType(p.StepType) {
	case StepTypePage:
		if p.PageID <= 0 {
			return StepInput{}, newStepError(position, "page step requires a positive page_id")
		}
		return StepInput{Name: p.StepName, Target: PageTarget{PageID: p.PageID}}, nil
	case StepTypeForm:
		if p.FormID <= 0 {
			return StepInput{}, newStepError(position, "form step requires a positive form_id")
		}
		return StepInput{Name: p.StepName, Target: FormTarget{FormID: p.FormID}}, nil
	default:
		return StepInput{}, newStepError(position, "step_type must be page or form")
	}
}

// StepInputsFromParams converts a list of loose steps, failing on the first invalid one.
func StepInputsFromParams(params []StepParams) ([]StepInput, error) {
	inputs := make([]StepInput, 0, len(params))
	for i, p := range params {
		in, err := p.ToStepInput(i)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, nil
}
