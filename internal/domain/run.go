package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the persisted record of one pipeline run for a child.
type Run struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChildID string    `gorm:"column:child_id;not null;index" json:"child_id"`

	Question        string `gorm:"column:question;not null" json:"question"`
	ExpertID        string `gorm:"column:expert_id;index" json:"expert_id"`
	SelectionReason string `gorm:"column:selection_reason" json:"selection_reason"`
	Style           string `gorm:"column:style;not null;default:'default'" json:"style"`
	Mode            string `gorm:"column:mode;not null" json:"mode"`
	Summary         string `gorm:"column:summary" json:"summary"`
	Status          string `gorm:"column:status;not null;index" json:"status"`
	StepCount       int    `gorm:"column:step_count;not null;default:0" json:"step_count"`

	ProcessingTimeMs int64          `gorm:"column:processing_time_ms" json:"processing_time_ms"`
	Metadata         datatypes.JSON `gorm:"column:metadata" json:"metadata,omitempty"`

	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time  `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null" json:"updated_at"`
}

func (Run) TableName() string { return "run" }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RunStep is one scene of a completed run.
type RunStep struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	RunID uuid.UUID `gorm:"type:uuid;column:run_id;not null;index:idx_run_step_order,unique" json:"run_id"`

	SceneID         string `gorm:"column:scene_id;not null" json:"scene_id"`
	Order           int    `gorm:"column:step_order;not null;index:idx_run_step_order,unique" json:"order"`
	Script          string `gorm:"column:script;not null" json:"script"`
	ImagePromptUsed string `gorm:"column:image_prompt_used" json:"image_prompt_used"`
	ImageURL        string `gorm:"column:image_url" json:"image_url,omitempty"`
	ImageHint       string `gorm:"column:image_hint" json:"image_hint"`
	AudioURL        string `gorm:"column:audio_url" json:"audio_url,omitempty"`
	Status          string `gorm:"column:status;not null" json:"status"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (RunStep) TableName() string { return "run_step" }

func (s *RunStep) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
