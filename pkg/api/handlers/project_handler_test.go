package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter() (*gin.Engine, *ProjectHandler) {
	gin.SetMode(gin.TestMode)
	h := NewProjectHandler(nil, nil, nil)

	router := gin.New()
	projects := router.Group("/api/v1/projects")
	{
		projects.POST("", h.CreateProject)
		projects.GET("/:id/schedule", h.GetSchedule)
		projects.POST("/:id/tasks/:taskId/progress", h.UpdateTaskProgress)
		projects.POST("/:id/simulate", h.Simulate)
		projects.GET("/:id/report", h.GetReport)
		projects.GET("/:id/graph", h.GetGraphView)
	}
	return router, h
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getPath(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func sampleProject() map[string]interface{} {
	return map[string]interface{}{
		"name":       "Sample",
		"start_date": "2026-03-02",
		"resources": []map[string]interface{}{
			{"id": "dev"},
		},
		"tasks": []map[string]interface{}{
			{"id": "a", "name": "A", "aggressive_duration": 10, "resources": "dev"},
			{"id": "b", "name": "B", "aggressive_duration": 5, "dependencies": []string{"a"}, "resources": "dev"},
		},
	}
}

func createProject(t *testing.T, router *gin.Engine) string {
	t.Helper()
	w := postJSON(router, "/api/v1/projects", sampleProject())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	id, _ := resp["project_id"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestCreateProjectSchedules(t *testing.T) {
	router, _ := setupRouter()

	w := postJSON(router, "/api/v1/projects", sampleProject())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		ProjectID string                   `json:"project_id"`
		Tasks     []map[string]interface{} `json:"tasks"`
		Chains    []map[string]interface{} `json:"chains"`
		Buffers   []map[string]interface{} `json:"buffers"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Len(t, resp.Tasks, 2)
	require.NotEmpty(t, resp.Chains)
	require.NotEmpty(t, resp.Buffers)

	// Every scheduled task carries calendar dates.
	for _, task := range resp.Tasks {
		assert.NotNil(t, task["startDate"], "task %v missing startDate", task["id"])
		assert.NotNil(t, task["endDate"], "task %v missing endDate", task["id"])
	}
}

func TestCreateProjectValidation(t *testing.T) {
	router, _ := setupRouter()

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{
			name: "missing name",
			body: map[string]interface{}{
				"tasks": []map[string]interface{}{
					{"id": "a", "name": "A", "aggressive_duration": 10},
				},
			},
		},
		{
			name: "no tasks",
			body: map[string]interface{}{"name": "P"},
		},
		{
			name: "non-positive duration",
			body: map[string]interface{}{
				"name": "P",
				"tasks": []map[string]interface{}{
					{"id": "a", "name": "A", "aggressive_duration": 0},
				},
			},
		},
		{
			name: "bad buffer strategy",
			body: map[string]interface{}{
				"name":   "P",
				"config": map[string]interface{}{"project_buffer_strategy": "vibes"},
				"tasks": []map[string]interface{}{
					{"id": "a", "name": "A", "aggressive_duration": 10},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(router, "/api/v1/projects", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestCreateProjectCycleDetected(t *testing.T) {
	router, _ := setupRouter()

	body := map[string]interface{}{
		"name": "Cyclic",
		"tasks": []map[string]interface{}{
			{"id": "a", "name": "A", "aggressive_duration": 5, "dependencies": []string{"b"}},
			{"id": "b", "name": "B", "aggressive_duration": 5, "dependencies": []string{"a"}},
		},
	}

	w := postJSON(router, "/api/v1/projects", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "CYCLE_DETECTED")
}

func TestUpdateTaskProgress(t *testing.T) {
	router, _ := setupRouter()
	id := createProject(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/projects/%s/tasks/a/progress", id), map[string]interface{}{
		"remaining_duration": 0,
		"status_date":        "2026-03-05",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Task map[string]interface{} `json:"task"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.Task["status"])
	assert.NotNil(t, resp.Task["actualEndDate"])
}

func TestUpdateTaskProgressUnknownTask(t *testing.T) {
	router, _ := setupRouter()
	id := createProject(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/projects/%s/tasks/ghost/progress", id), map[string]interface{}{
		"remaining_duration": 2,
		"status_date":        "2026-03-05",
	})
	// Unknown task ids are invalid progress updates, not missing records.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_PROGRESS")
}

func TestUpdateTaskProgressUnknownProject(t *testing.T) {
	router, _ := setupRouter()

	w := postJSON(router, "/api/v1/projects/nope/tasks/a/progress", map[string]interface{}{
		"remaining_duration": 2,
		"status_date":        "2026-03-05",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetReport(t *testing.T) {
	router, _ := setupRouter()
	id := createProject(t, router)

	w := getPath(router, fmt.Sprintf("/api/v1/projects/%s/report?date=2026-03-09", id))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Report string `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Report, "CCPM Project Execution Status Report")
}

func TestGetGraphView(t *testing.T) {
	router, _ := setupRouter()
	id := createProject(t, router)

	w := getPath(router, fmt.Sprintf("/api/v1/projects/%s/graph", id))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Nodes []struct {
			ID   string `json:"id"`
			Kind string `json:"kind"`
		} `json:"nodes"`
		Edges []struct {
			From string `json:"from"`
			To   string `json:"to"`
		} `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	kinds := make(map[string]string)
	for _, n := range resp.Nodes {
		kinds[n.ID] = n.Kind
	}
	assert.Equal(t, "task", kinds["a"])
	assert.Equal(t, "task", kinds["b"])
	assert.Equal(t, "buffer", kinds["PB"])

	// The project buffer hangs off the last critical task.
	found := false
	for _, e := range resp.Edges {
		if e.From == "b" && e.To == "PB" {
			found = true
		}
	}
	assert.True(t, found, "expected edge b -> PB, got %v", resp.Edges)
}

func TestSimulate(t *testing.T) {
	router, _ := setupRouter()
	id := createProject(t, router)

	w := postJSON(router, fmt.Sprintf("/api/v1/projects/%s/simulate", id), map[string]interface{}{
		"date":                 "2026-03-10",
		"completed_tasks":      []string{"a"},
		"in_progress_tasks":    []string{"b"},
		"progress_percentages": map[string]float64{"b": 40},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Tasks []map[string]interface{} `json:"tasks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	statuses := make(map[string]string)
	for _, task := range resp.Tasks {
		statuses[task["id"].(string)] = task["status"].(string)
	}
	assert.Equal(t, "completed", statuses["a"])
	assert.Equal(t, "in_progress", statuses["b"])
}
