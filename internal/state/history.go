package state

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// HistoryEntry is one recorded status change of a task or buffer.
type HistoryEntry struct {
	ID         uuid.UUID              `gorm:"type:uuid;primary_key;default:uuid_generate_v4()" json:"id"`
	EntityType string                 `gorm:"type:varchar(50);not null;index:idx_status_history_entity" json:"entity_type"`
	EntityID   string                 `gorm:"type:varchar(255);not null;index:idx_status_history_entity" json:"entity_id"`
	ProjectID  string                 `gorm:"type:varchar(255);not null;index:idx_status_history_project" json:"project_id"`
	OldStatus  *string                `gorm:"type:varchar(50)" json:"old_status"`
	NewStatus  string                 `gorm:"type:varchar(50);not null" json:"new_status"`
	ChangedAt  time.Time              `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_status_history_changed_at" json:"changed_at"`
	Metadata   map[string]interface{} `gorm:"type:jsonb;serializer:json;default:'{}'" json:"metadata"`
}

// TableName specifies the table name for HistoryEntry.
func (HistoryEntry) TableName() string {
	return "status_history"
}

// HistoryTracker records status changes to the database.
type HistoryTracker struct {
	db *gorm.DB
}

// NewHistoryTracker creates a new history tracker.
func NewHistoryTracker(db *gorm.DB) *HistoryTracker {
	return &HistoryTracker{db: db}
}

// Record records a status change to the history table.
func (h *HistoryTracker) Record(ctx context.Context, event TransitionEvent) error {
	var oldStatus *string
	if event.OldStatus != "" {
		str := event.OldStatus
		oldStatus = &str
	}

	entry := HistoryEntry{
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		ProjectID:  event.ProjectID,
		OldStatus:  oldStatus,
		NewStatus:  event.NewStatus,
		ChangedAt:  time.Now().UTC(),
		Metadata:   event.Metadata,
	}

	if err := h.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to record status history: %w", err)
	}

	return nil
}

// History retrieves status history for an entity, most recent first.
func (h *HistoryTracker) History(ctx context.Context, entityType, entityID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("changed_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get status history: %w", err)
	}

	return entries, nil
}

// ProjectHistory retrieves recent status changes across one project.
func (h *HistoryTracker) ProjectHistory(ctx context.Context, projectID string, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := h.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("changed_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to get project status history: %w", err)
	}

	return entries, nil
}

// HistoryPublisher is an EventPublisher that records every transition to the
// history table.
type HistoryPublisher struct {
	tracker *HistoryTracker
}

// NewHistoryPublisher creates a new history publisher.
func NewHistoryPublisher(db *gorm.DB) *HistoryPublisher {
	return &HistoryPublisher{
		tracker: NewHistoryTracker(db),
	}
}

// Publish records a status change event to the history.
func (p *HistoryPublisher) Publish(event TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return p.tracker.Record(ctx, event)
}
