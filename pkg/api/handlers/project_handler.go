package handlers

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flowchain/ccpm/internal/buffer"
	"github.com/flowchain/ccpm/internal/cache"
	"github.com/flowchain/ccpm/internal/graph"
	"github.com/flowchain/ccpm/internal/project"
	"github.com/flowchain/ccpm/internal/scheduler"
	"github.com/flowchain/ccpm/internal/state"
	"github.com/flowchain/ccpm/internal/storage"
	"github.com/flowchain/ccpm/pkg/api/dto"
	"github.com/flowchain/ccpm/pkg/api/middleware"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// ProjectHandler serves the engine-consumer API over HTTP. Each project owns
// one engine instance; the handler serializes access to it per the engine's
// single-writer discipline.
type ProjectHandler struct {
	repo     storage.ProjectRepository
	cache    *cache.Cache
	stateMgr *state.Manager

	mu         sync.Mutex
	schedulers map[string]*scheduler.Scheduler
}

// NewProjectHandler creates a project handler. repo and reportCache may be
// nil, in which case projects live in memory only and reports are always
// recomputed.
func NewProjectHandler(repo storage.ProjectRepository, reportCache *cache.Cache, stateMgr *state.Manager) *ProjectHandler {
	if stateMgr == nil {
		stateMgr = state.NewManager(nil)
	}
	return &ProjectHandler{
		repo:       repo,
		cache:      reportCache,
		stateMgr:   stateMgr,
		schedulers: make(map[string]*scheduler.Scheduler),
	}
}

// CreateProject handles POST /api/v1/projects: builds the project, runs the
// full scheduling pipeline and returns the resulting tasks, chains and
// buffers.
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}

	def, err := buildDefinition(&req)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_PROJECT", err.Error())
		return
	}

	sched := def.NewScheduler()
	result, err := sched.Schedule()
	if err != nil {
		middleware.AbortWithEngineError(c, err)
		return
	}

	projectID := uuid.New().String()
	if h.repo != nil {
		id, err := h.repo.CreateProject(c.Request.Context(), def.Name, def.StartDate)
		if err != nil {
			middleware.AbortWithError(c, http.StatusInternalServerError, "CREATE_FAILED", err.Error())
			return
		}
		projectID = id.String()
		h.persist(c, id, sched)
	}

	h.mu.Lock()
	h.schedulers[projectID] = sched
	h.mu.Unlock()

	h.invalidate(c, projectID)

	c.JSON(http.StatusCreated, scheduleResponse(projectID, result))
}

// ListProjects handles GET /api/v1/projects.
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	if h.repo == nil {
		middleware.AbortWithError(c, http.StatusNotImplemented, "NO_STORE", "project listing requires a database")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	models, err := h.repo.ListProjects(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		middleware.AbortWithError(c, http.StatusInternalServerError, "LIST_FAILED", err.Error())
		return
	}

	projects := make([]dto.ProjectResponse, len(models))
	for i, m := range models {
		projects[i] = dto.ProjectResponse{
			ID:        m.ID.String(),
			Name:      m.Name,
			StartDate: m.StartDate,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		}
	}

	c.JSON(http.StatusOK, dto.ProjectListResponse{
		Projects:   projects,
		Pagination: dto.NewPaginationMeta(page, pageSize, int64(len(projects))),
	})
}

// GetSchedule handles GET /api/v1/projects/:id/schedule.
func (h *ProjectHandler) GetSchedule(c *gin.Context) {
	projectID := c.Param("id")
	sched, ok := h.scheduler(projectID)
	if !ok {
		middleware.AbortWithError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "project not found")
		return
	}

	h.mu.Lock()
	result := &scheduler.ScheduleResult{
		Tasks:   sched.Tasks(),
		Chains:  sched.Chains(),
		Buffers: sched.Buffers(),
	}
	resp := scheduleResponse(projectID, result)
	h.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

// UpdateTaskProgress handles POST /api/v1/projects/:id/tasks/:taskId/progress.
func (h *ProjectHandler) UpdateTaskProgress(c *gin.Context) {
	projectID := c.Param("id")
	taskID := ccpm.TaskId(c.Param("taskId"))

	var req dto.ProgressRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}
	statusDate, err := parseAPIDate(req.StatusDate)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	sched, ok := h.scheduler(projectID)
	if !ok {
		middleware.AbortWithError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "project not found")
		return
	}

	h.mu.Lock()
	oldStatuses := taskStatuses(sched)
	oldBufferStatuses := bufferStatuses(sched)

	task, err := sched.UpdateTaskProgress(taskID, req.RemainingDuration, statusDate)
	if err != nil {
		h.mu.Unlock()
		middleware.AbortWithEngineError(c, err)
		return
	}

	h.notifyTransitions(projectID, sched, oldStatuses, oldBufferStatuses)
	taskDict := task.ToDict()
	h.mu.Unlock()

	if h.repo != nil {
		if id, err := uuid.Parse(projectID); err == nil {
			h.persist(c, id, sched)
		}
	}
	h.invalidate(c, projectID)

	c.JSON(http.StatusOK, dto.TaskResponse{ProjectID: projectID, Task: taskDict})
}

// Simulate handles POST /api/v1/projects/:id/simulate.
func (h *ProjectHandler) Simulate(c *gin.Context) {
	projectID := c.Param("id")

	var req dto.SimulateRequest
	if !middleware.BindAndValidate(c, &req) {
		return
	}
	simDate, err := parseAPIDate(req.Date)
	if err != nil {
		middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_DATE", err.Error())
		return
	}

	sched, ok := h.scheduler(projectID)
	if !ok {
		middleware.AbortWithError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "project not found")
		return
	}

	completed := make([]ccpm.TaskId, len(req.CompletedTasks))
	for i, id := range req.CompletedTasks {
		completed[i] = ccpm.TaskId(id)
	}
	inProgress := make([]ccpm.TaskId, len(req.InProgressTasks))
	for i, id := range req.InProgressTasks {
		inProgress[i] = ccpm.TaskId(id)
	}
	percentages := make(map[ccpm.TaskId]float64, len(req.ProgressPercentages))
	for id, pct := range req.ProgressPercentages {
		percentages[ccpm.TaskId(id)] = pct
	}

	h.mu.Lock()
	err = sched.SimulateExecution(simDate, completed, inProgress, percentages)
	if err != nil {
		h.mu.Unlock()
		middleware.AbortWithEngineError(c, err)
		return
	}
	result := &scheduler.ScheduleResult{
		Tasks:   sched.Tasks(),
		Chains:  sched.Chains(),
		Buffers: sched.Buffers(),
	}
	resp := scheduleResponse(projectID, result)
	h.mu.Unlock()

	h.invalidate(c, projectID)

	c.JSON(http.StatusOK, resp)
}

// GetReport handles GET /api/v1/projects/:id/report?date=YYYY-MM-DD.
func (h *ProjectHandler) GetReport(c *gin.Context) {
	projectID := c.Param("id")

	reportDate := time.Now()
	if d := c.Query("date"); d != "" {
		parsed, err := parseAPIDate(d)
		if err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, "INVALID_DATE", err.Error())
			return
		}
		reportDate = parsed
	}

	if h.cache != nil && c.Query("date") == "" {
		if report, ok := h.cache.Report(c.Request.Context(), projectID); ok {
			c.JSON(http.StatusOK, dto.ReportResponse{
				ProjectID:  projectID,
				ReportDate: reportDate.Format("2006-01-02"),
				Report:     report,
				Cached:     true,
			})
			return
		}
	}

	sched, ok := h.scheduler(projectID)
	if !ok {
		middleware.AbortWithError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "project not found")
		return
	}

	h.mu.Lock()
	report := sched.GenerateExecutionReport(reportDate)
	h.mu.Unlock()

	if h.cache != nil && c.Query("date") == "" {
		h.cache.SetReport(c.Request.Context(), projectID, report)
	}

	c.JSON(http.StatusOK, dto.ReportResponse{
		ProjectID:  projectID,
		ReportDate: reportDate.Format("2006-01-02"),
		Report:     report,
	})
}

// GetGraphView handles GET /api/v1/projects/:id/graph: the derived
// dependency-graph view (task and buffer nodes) for rendering collaborators.
func (h *ProjectHandler) GetGraphView(c *gin.Context) {
	projectID := c.Param("id")
	sched, ok := h.scheduler(projectID)
	if !ok {
		middleware.AbortWithError(c, http.StatusNotFound, "PROJECT_NOT_FOUND", "project not found")
		return
	}

	h.mu.Lock()
	view := sched.View()
	if view == nil {
		h.mu.Unlock()
		middleware.AbortWithError(c, http.StatusConflict, "NOT_SCHEDULED", "project has not been scheduled")
		return
	}

	resp := dto.GraphViewResponse{ProjectID: projectID}
	for _, id := range view.Nodes() {
		kind := "task"
		if k, _ := view.Kind(id); k == graph.NodeBuffer {
			kind = "buffer"
		}
		resp.Nodes = append(resp.Nodes, dto.GraphNode{ID: string(id), Kind: kind})
		for _, succ := range view.Successors(id) {
			resp.Edges = append(resp.Edges, dto.GraphEdge{From: string(id), To: string(succ)})
		}
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, resp)
}

// scheduler returns the in-memory engine instance for a project. Instances
// are not restored from storage, so a project scheduled before the process
// restarted is reported as not found.
func (h *ProjectHandler) scheduler(projectID string) (*scheduler.Scheduler, bool) {
	h.mu.Lock()
	sched, ok := h.schedulers[projectID]
	h.mu.Unlock()
	if ok {
		return sched, true
	}
	return nil, false
}

func (h *ProjectHandler) persist(c *gin.Context, projectID uuid.UUID, sched *scheduler.Scheduler) {
	h.mu.Lock()
	snap := &storage.Snapshot{
		Tasks:     sched.Tasks(),
		Chains:    sched.Chains(),
		Buffers:   sched.Buffers(),
		Resources: sched.Resources(),
	}
	h.mu.Unlock()
	_ = h.repo.SaveSnapshot(c.Request.Context(), projectID, snap)
}

func (h *ProjectHandler) invalidate(c *gin.Context, projectID string) {
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), projectID)
	}
}

// notifyTransitions diffs task and buffer statuses around an engine call and
// publishes one event per change, in deterministic id order.
func (h *ProjectHandler) notifyTransitions(projectID string, sched *scheduler.Scheduler, oldTasks map[ccpm.TaskId]ccpm.TaskStatus, oldBuffers map[string]ccpm.BufferStatus) {
	taskIDs := make([]string, 0, len(oldTasks))
	for id := range oldTasks {
		taskIDs = append(taskIDs, string(id))
	}
	sort.Strings(taskIDs)
	for _, id := range taskIDs {
		t, ok := sched.Task(ccpm.TaskId(id))
		if !ok {
			continue
		}
		old := oldTasks[ccpm.TaskId(id)]
		if t.Status != old {
			_ = h.stateMgr.Transition("task", id, projectID, old, t.Status, map[string]interface{}{
				"remaining": t.RemainingDuration,
			})
		}
	}

	bufferIDs := make([]string, 0, len(oldBuffers))
	for id := range oldBuffers {
		bufferIDs = append(bufferIDs, id)
	}
	sort.Strings(bufferIDs)
	for _, id := range bufferIDs {
		b, ok := sched.Buffers()[id]
		if !ok {
			continue
		}
		_ = h.stateMgr.NotifyBufferStatus(id, projectID, oldBuffers[id], b.Status(), map[string]interface{}{
			"consumption_pct": b.ConsumptionPercentage(),
		})
	}
}

func taskStatuses(sched *scheduler.Scheduler) map[ccpm.TaskId]ccpm.TaskStatus {
	out := make(map[ccpm.TaskId]ccpm.TaskStatus)
	for id, t := range sched.Tasks() {
		out[id] = t.Status
	}
	return out
}

func bufferStatuses(sched *scheduler.Scheduler) map[string]ccpm.BufferStatus {
	out := make(map[string]ccpm.BufferStatus)
	for id, b := range sched.Buffers() {
		out[id] = b.Status()
	}
	return out
}

func buildDefinition(req *dto.CreateProjectRequest) (*project.Definition, error) {
	b := project.NewBuilder(req.Name)

	if req.StartDate != "" {
		start, err := parseAPIDate(req.StartDate)
		if err != nil {
			return nil, err
		}
		b.StartDate(start)
	}

	if req.Config != nil {
		cfg := scheduler.DefaultConfig()
		if req.Config.ProjectBufferRatio != nil {
			cfg.ProjectBufferRatio = *req.Config.ProjectBufferRatio
		}
		if req.Config.FeedingBufferRatio != nil {
			cfg.DefaultFeedingBufferRatio = *req.Config.FeedingBufferRatio
		}
		if req.Config.ProjectBufferStrategy != "" {
			cfg.ProjectBufferStrategy = buffer.Name(req.Config.ProjectBufferStrategy)
		}
		if req.Config.FeedingBufferStrategy != "" {
			cfg.DefaultFeedingBufferStrategy = buffer.Name(req.Config.FeedingBufferStrategy)
		}
		cfg.AllowResourceOverallocation = req.Config.AllowResourceOverallocation
		b.Config(cfg)
	}

	for _, r := range req.Resources {
		b.Resource(r.ID, r.Capacity)
	}
	for _, t := range req.Tasks {
		b.Task(t.ID, t.Name, t.AggressiveDuration, t.SafeDuration, t.Dependencies, t.Resources)
	}

	def, err := b.Build()
	if err != nil {
		return nil, err
	}

	// Resource calendars arrive on the request, not through the builder.
	calendars := make(map[string]map[string]float64, len(req.Resources))
	for _, r := range req.Resources {
		if len(r.Calendar) > 0 {
			calendars[r.ID] = r.Calendar
		}
	}
	for _, res := range def.Resources {
		if cal, ok := calendars[string(res.ID)]; ok {
			for date, units := range cal {
				res.Calendar[date] = units
			}
		}
	}
	return def, nil
}

func scheduleResponse(projectID string, result *scheduler.ScheduleResult) dto.ScheduleResponse {
	resp := dto.ScheduleResponse{ProjectID: projectID}

	taskIDs := make([]string, 0, len(result.Tasks))
	for id := range result.Tasks {
		taskIDs = append(taskIDs, string(id))
	}
	sort.Strings(taskIDs)
	for _, id := range taskIDs {
		resp.Tasks = append(resp.Tasks, result.Tasks[ccpm.TaskId(id)].ToDict())
	}

	chainIDs := make([]string, 0, len(result.Chains))
	for id := range result.Chains {
		chainIDs = append(chainIDs, id)
	}
	sort.Strings(chainIDs)
	for _, id := range chainIDs {
		resp.Chains = append(resp.Chains, result.Chains[id].ToDict(result.Tasks))
	}

	bufferIDs := make([]string, 0, len(result.Buffers))
	for id := range result.Buffers {
		bufferIDs = append(bufferIDs, id)
	}
	sort.Strings(bufferIDs)
	for _, id := range bufferIDs {
		resp.Buffers = append(resp.Buffers, result.Buffers[id].ToDict())
	}

	return resp
}

func parseAPIDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
