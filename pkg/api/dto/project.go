package dto

import (
	"time"

	"github.com/flowchain/ccpm/pkg/ccpm"
)

// TaskRequest is one task in a project submission. Resources accepts the
// three legacy shapes (single id, list of ids, id->units map); normalization
// happens at task construction.
type TaskRequest struct {
	ID                 string      `json:"id" validate:"required"`
	Name               string      `json:"name" validate:"required"`
	AggressiveDuration float64     `json:"aggressive_duration" validate:"required,gt=0"`
	SafeDuration       float64     `json:"safe_duration,omitempty" validate:"omitempty,gtefield=AggressiveDuration"`
	Dependencies       []string    `json:"dependencies,omitempty"`
	Resources          interface{} `json:"resources,omitempty"`
}

// ResourceRequest declares one named capacity available to the project.
type ResourceRequest struct {
	ID       string             `json:"id" validate:"required"`
	Capacity float64            `json:"capacity,omitempty" validate:"omitempty,gt=0"`
	Calendar map[string]float64 `json:"calendar,omitempty"`
}

// SchedulerConfigRequest carries the scheduler tunables; omitted fields fall
// back to the engine defaults.
type SchedulerConfigRequest struct {
	ProjectBufferRatio          *float64 `json:"project_buffer_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	FeedingBufferRatio          *float64 `json:"feeding_buffer_ratio,omitempty" validate:"omitempty,gte=0,lte=1"`
	ProjectBufferStrategy       string   `json:"project_buffer_strategy,omitempty" validate:"omitempty,buffer_strategy"`
	FeedingBufferStrategy       string   `json:"feeding_buffer_strategy,omitempty" validate:"omitempty,buffer_strategy"`
	AllowResourceOverallocation bool     `json:"allow_resource_overallocation,omitempty"`
}

// CreateProjectRequest is the POST /projects body.
type CreateProjectRequest struct {
	Name      string                  `json:"name" validate:"required,min=1,max=255"`
	StartDate string                  `json:"start_date,omitempty" validate:"omitempty,project_date"`
	Config    *SchedulerConfigRequest `json:"config,omitempty"`
	Resources []ResourceRequest       `json:"resources,omitempty" validate:"dive"`
	Tasks     []TaskRequest           `json:"tasks" validate:"required,min=1,dive"`
}

// ProgressRequest is the POST .../progress body.
type ProgressRequest struct {
	RemainingDuration float64 `json:"remaining_duration" validate:"gte=0"`
	StatusDate        string  `json:"status_date" validate:"required,project_date"`
}

// SimulateRequest is the POST .../simulate body.
type SimulateRequest struct {
	Date                string             `json:"date" validate:"required,project_date"`
	CompletedTasks      []string           `json:"completed_tasks,omitempty"`
	InProgressTasks     []string           `json:"in_progress_tasks,omitempty"`
	ProgressPercentages map[string]float64 `json:"progress_percentages,omitempty" validate:"omitempty,dive,gte=0,lte=100"`
}

// ScheduleResponse returns the engine's plain-data result: the canonical
// dict form of every task, chain and buffer.
type ScheduleResponse struct {
	ProjectID string      `json:"project_id"`
	Tasks     []ccpm.Dict `json:"tasks"`
	Chains    []ccpm.Dict `json:"chains"`
	Buffers   []ccpm.Dict `json:"buffers"`
}

// TaskResponse returns one task's canonical dict form.
type TaskResponse struct {
	ProjectID string    `json:"project_id"`
	Task      ccpm.Dict `json:"task"`
}

// ProjectResponse describes one project row.
type ProjectResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProjectListResponse is a paginated project listing.
type ProjectListResponse struct {
	Projects   []ProjectResponse `json:"projects"`
	Pagination PaginationMeta    `json:"pagination"`
}

// ReportResponse wraps an execution report digest.
type ReportResponse struct {
	ProjectID  string `json:"project_id"`
	ReportDate string `json:"report_date"`
	Report     string `json:"report"`
	Cached     bool   `json:"cached"`
}

// GraphNode is one node of the derived dependency-graph view.
type GraphNode struct {
	ID   string `json:"id"`
	Kind string `json:"kind"` // "task" or "buffer"
}

// GraphEdge is one directed edge of the view.
type GraphEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GraphViewResponse is the rendering collaborator's read surface.
type GraphViewResponse struct {
	ProjectID string      `json:"project_id"`
	Nodes     []GraphNode `json:"nodes"`
	Edges     []GraphEdge `json:"edges"`
}
