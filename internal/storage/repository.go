package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// ProjectRepository persists scheduled CCPM projects and their tasks, chains,
// buffers and resources, each entity row carrying its canonical toDict
// document.
type ProjectRepository interface {
	CreateProject(ctx context.Context, name string, startDate time.Time) (uuid.UUID, error)
	GetProject(ctx context.Context, id uuid.UUID) (*ProjectModel, error)
	ListProjects(ctx context.Context, limit, offset int) ([]*ProjectModel, error)
	DeleteProject(ctx context.Context, id uuid.UUID) error

	SaveSnapshot(ctx context.Context, projectID uuid.UUID, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, projectID uuid.UUID) (*Snapshot, error)
}

// Snapshot is one consistent capture of a project's engine state, taken
// between mutations per the engine's shared-state discipline.
type Snapshot struct {
	Tasks     map[ccpm.TaskId]*ccpm.Task
	Chains    map[string]*ccpm.Chain
	Buffers   map[string]*ccpm.Buffer
	Resources map[ccpm.ResourceId]*ccpm.Resource
}

// GormProjectRepository is the gorm/Postgres implementation of
// ProjectRepository.
type GormProjectRepository struct {
	db *gorm.DB
}

// NewProjectRepository creates a repository over a gorm DB.
func NewProjectRepository(db *gorm.DB) *GormProjectRepository {
	return &GormProjectRepository{db: db}
}

// CreateProject inserts a project row and returns its id.
func (r *GormProjectRepository) CreateProject(ctx context.Context, name string, startDate time.Time) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	model := &ProjectModel{
		ID:        uuid.New(),
		Name:      name,
		StartDate: startDate,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to create project: %w", err)
	}
	return model.ID, nil
}

// GetProject fetches a project row by id.
func (r *GormProjectRepository) GetProject(ctx context.Context, id uuid.UUID) (*ProjectModel, error) {
	var model ProjectModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &model, nil
}

// ListProjects returns project rows, newest first.
func (r *GormProjectRepository) ListProjects(ctx context.Context, limit, offset int) ([]*ProjectModel, error) {
	var models []*ProjectModel
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return models, nil
}

// DeleteProject removes a project and its entity rows.
func (r *GormProjectRepository) DeleteProject(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&TaskModel{}, &ChainModel{}, &BufferModel{}, &ResourceModel{}} {
			if err := tx.Where("project_id = ?", id).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to delete project entities: %w", err)
			}
		}
		result := tx.Delete(&ProjectModel{}, "id = ?", id)
		if result.Error != nil {
			return fmt.Errorf("failed to delete project: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// SaveSnapshot replaces the project's entity rows with the snapshot, in one
// transaction so readers never observe a half-written schedule.
func (r *GormProjectRepository) SaveSnapshot(ctx context.Context, projectID uuid.UUID, snap *Snapshot) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&TaskModel{}, &ChainModel{}, &BufferModel{}, &ResourceModel{}} {
			if err := tx.Where("project_id = ?", projectID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear previous snapshot: %w", err)
			}
		}

		for id, task := range snap.Tasks {
			row := &TaskModel{
				ID:        uuid.New(),
				ProjectID: projectID,
				TaskID:    string(id),
				Data:      JSONB(task.ToDict()),
				UpdatedAt: now,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to save task %s: %w", id, err)
			}
		}

		for id, chain := range snap.Chains {
			row := &ChainModel{
				ID:        uuid.New(),
				ProjectID: projectID,
				ChainID:   id,
				Data:      JSONB(chain.ToDict(snap.Tasks)),
				UpdatedAt: now,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to save chain %s: %w", id, err)
			}
		}

		for id, buf := range snap.Buffers {
			row := &BufferModel{
				ID:        uuid.New(),
				ProjectID: projectID,
				BufferID:  id,
				Data:      JSONB(buf.ToDict()),
				UpdatedAt: now,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to save buffer %s: %w", id, err)
			}
		}

		for id, res := range snap.Resources {
			row := &ResourceModel{
				ID:         uuid.New(),
				ProjectID:  projectID,
				ResourceID: string(id),
				Capacity:   res.Capacity,
				Data:       resourceData(res),
				UpdatedAt:  now,
			}
			if err := tx.Create(row).Error; err != nil {
				return fmt.Errorf("failed to save resource %s: %w", id, err)
			}
		}

		return tx.Model(&ProjectModel{}).
			Where("id = ?", projectID).
			Update("updated_at", now).Error
	})
}

// LoadSnapshot reconstructs a project's entities from their stored dicts.
func (r *GormProjectRepository) LoadSnapshot(ctx context.Context, projectID uuid.UUID) (*Snapshot, error) {
	snap := &Snapshot{
		Tasks:     make(map[ccpm.TaskId]*ccpm.Task),
		Chains:    make(map[string]*ccpm.Chain),
		Buffers:   make(map[string]*ccpm.Buffer),
		Resources: make(map[ccpm.ResourceId]*ccpm.Resource),
	}

	var taskRows []TaskModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&taskRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}
	for _, row := range taskRows {
		task, err := ccpm.TaskFromDict(ccpm.Dict(row.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode task %s: %w", row.TaskID, err)
		}
		snap.Tasks[task.ID] = task
	}

	var chainRows []ChainModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&chainRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load chains: %w", err)
	}
	for _, row := range chainRows {
		chain, err := ccpm.ChainFromDict(ccpm.Dict(row.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode chain %s: %w", row.ChainID, err)
		}
		snap.Chains[chain.ID] = chain
	}

	var bufferRows []BufferModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&bufferRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load buffers: %w", err)
	}
	for _, row := range bufferRows {
		buf, err := ccpm.BufferFromDict(ccpm.Dict(row.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode buffer %s: %w", row.BufferID, err)
		}
		snap.Buffers[buf.ID] = buf
	}

	var resourceRows []ResourceModel
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Find(&resourceRows).Error; err != nil {
		return nil, fmt.Errorf("failed to load resources: %w", err)
	}
	for _, row := range resourceRows {
		res := ccpm.NewResource(ccpm.ResourceId(row.ResourceID), row.Capacity)
		applyResourceData(res, row.Data)
		snap.Resources[res.ID] = res
	}

	return snap, nil
}

func resourceData(res *ccpm.Resource) JSONB {
	calendar := make(map[string]interface{}, len(res.Calendar))
	for date, units := range res.Calendar {
		calendar[date] = units
	}
	return JSONB{"calendar": calendar}
}

func applyResourceData(res *ccpm.Resource, data JSONB) {
	raw, ok := data["calendar"].(map[string]interface{})
	if !ok {
		return
	}
	for date, units := range raw {
		if f, ok := units.(float64); ok {
			res.Calendar[date] = f
		}
	}
}
