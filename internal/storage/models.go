package storage

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// JSONB is a custom type for JSONB columns, unchanged from the teacher's
// encoding for arbitrary document-shaped data.
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// ProjectModel is the database row for one scheduled CCPM project. Tasks,
// chains and buffers are stored separately and keyed by ProjectID; each row
// carries its entity's full pkg/ccpm.*.ToDict() document in Data rather than
// a column per field, since the schema is exactly the one serialize.go
// already maintains for the visualization/export boundary.
type ProjectModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	Name      string    `gorm:"type:varchar(255);not null;index:idx_projects_name"`
	StartDate time.Time `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for ProjectModel.
func (ProjectModel) TableName() string { return "ccpm_projects" }

// TaskModel is the database row for one task within a project.
type TaskModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index:idx_tasks_project_id"`
	TaskID    string    `gorm:"type:varchar(255);not null;index:idx_tasks_task_id"`
	Data      JSONB     `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for TaskModel.
func (TaskModel) TableName() string { return "ccpm_tasks" }

// ChainModel is the database row for one chain within a project.
type ChainModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index:idx_chains_project_id"`
	ChainID   string    `gorm:"type:varchar(255);not null;index:idx_chains_chain_id"`
	Data      JSONB     `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for ChainModel.
func (ChainModel) TableName() string { return "ccpm_chains" }

// BufferModel is the database row for one buffer within a project.
type BufferModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index:idx_buffers_project_id"`
	BufferID  string    `gorm:"type:varchar(255);not null;index:idx_buffers_buffer_id"`
	Data      JSONB     `gorm:"type:jsonb;not null"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for BufferModel.
func (BufferModel) TableName() string { return "ccpm_buffers" }

// ResourceModel is the database row for one resource within a project.
type ResourceModel struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:uuid_generate_v4()"`
	ProjectID  uuid.UUID `gorm:"type:uuid;not null;index:idx_resources_project_id"`
	ResourceID string    `gorm:"type:varchar(255);not null;index:idx_resources_resource_id"`
	Capacity   float64   `gorm:"not null;default:1"`
	Data       JSONB     `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName specifies the table name for ResourceModel.
func (ResourceModel) TableName() string { return "ccpm_resources" }
