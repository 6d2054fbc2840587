// Package project parses project definitions (tasks, resources, scheduler
// configuration) from YAML or JSON documents and offers a fluent builder for
// assembling them in code. A definition is the input to a
// scheduler.Scheduler; parsing validates shape and entity invariants but
// runs no scheduling.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/flowchain/ccpm/internal/buffer"
	"github.com/flowchain/ccpm/internal/scheduler"
	"github.com/flowchain/ccpm/pkg/ccpm"
)

// Definition is a fully validated project ready to hand to a Scheduler.
type Definition struct {
	Name      string
	StartDate time.Time
	Config    scheduler.Config
	Tasks     []*ccpm.Task
	Resources []*ccpm.Resource
}

// NewScheduler constructs a Scheduler pre-loaded with the definition's
// configuration, tasks, resources and start date.
func (d *Definition) NewScheduler() *scheduler.Scheduler {
	s := scheduler.New(d.Config)
	s.SetStartDate(d.StartDate)
	s.SetResources(d.Resources)
	for _, t := range d.Tasks {
		s.AddTask(t)
	}
	return s
}

// Parser parses project definitions from YAML or JSON.
type Parser struct{}

// NewParser creates a project definition parser.
func NewParser() *Parser {
	return &Parser{}
}

// projectFile is the on-disk shape of a project definition.
type projectFile struct {
	Name      string         `json:"name" yaml:"name"`
	StartDate string         `json:"start_date" yaml:"start_date"`
	Config    configFile     `json:"config" yaml:"config"`
	Resources []resourceFile `json:"resources,omitempty" yaml:"resources,omitempty"`
	Tasks     []taskFile     `json:"tasks" yaml:"tasks"`
}

// configFile carries the scheduler tunables; zero values fall back to the
// scheduler defaults.
type configFile struct {
	ProjectBufferRatio          float64 `json:"project_buffer_ratio,omitempty" yaml:"project_buffer_ratio,omitempty"`
	FeedingBufferRatio          float64 `json:"feeding_buffer_ratio,omitempty" yaml:"feeding_buffer_ratio,omitempty"`
	ProjectBufferStrategy       string  `json:"project_buffer_strategy,omitempty" yaml:"project_buffer_strategy,omitempty"`
	FeedingBufferStrategy       string  `json:"feeding_buffer_strategy,omitempty" yaml:"feeding_buffer_strategy,omitempty"`
	AllowResourceOverallocation bool    `json:"allow_resource_overallocation,omitempty" yaml:"allow_resource_overallocation,omitempty"`
}

type resourceFile struct {
	ID       string             `json:"id" yaml:"id"`
	Capacity float64            `json:"capacity,omitempty" yaml:"capacity,omitempty"`
	Calendar map[string]float64 `json:"calendar,omitempty" yaml:"calendar,omitempty"`
}

// taskFile tolerates the three legacy resource shapes (single id, list of
// ids, id->units map); normalization happens in ccpm.NewTask.
type taskFile struct {
	ID                 string      `json:"id" yaml:"id"`
	Name               string      `json:"name" yaml:"name"`
	AggressiveDuration float64     `json:"aggressive_duration" yaml:"aggressive_duration"`
	SafeDuration       float64     `json:"safe_duration,omitempty" yaml:"safe_duration,omitempty"`
	Dependencies       []string    `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	Resources          interface{} `json:"resources,omitempty" yaml:"resources,omitempty"`
}

// ParseYAMLFile parses a project definition from a YAML file.
func (p *Parser) ParseYAMLFile(filepath string) (*Definition, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseYAML(data)
}

// ParseYAML parses a project definition from YAML bytes.
func (p *Parser) ParseYAML(data []byte) (*Definition, error) {
	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}
	return p.convert(&pf)
}

// ParseJSONFile parses a project definition from a JSON file.
func (p *Parser) ParseJSONFile(filepath string) (*Definition, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return p.ParseJSON(data)
}

// ParseJSON parses a project definition from JSON bytes.
func (p *Parser) ParseJSON(data []byte) (*Definition, error) {
	var pf projectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return p.convert(&pf)
}

func (p *Parser) convert(pf *projectFile) (*Definition, error) {
	if pf.Name == "" {
		return nil, fmt.Errorf("project name is required")
	}

	startDate := time.Now()
	if pf.StartDate != "" {
		parsed, err := parseDate(pf.StartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid start_date: %w", err)
		}
		startDate = parsed
	}

	cfg := scheduler.DefaultConfig()
	if pf.Config.ProjectBufferRatio != 0 {
		cfg.ProjectBufferRatio = pf.Config.ProjectBufferRatio
	}
	if pf.Config.FeedingBufferRatio != 0 {
		cfg.DefaultFeedingBufferRatio = pf.Config.FeedingBufferRatio
	}
	if pf.Config.ProjectBufferStrategy != "" {
		cfg.ProjectBufferStrategy = buffer.Name(pf.Config.ProjectBufferStrategy)
	}
	if pf.Config.FeedingBufferStrategy != "" {
		cfg.DefaultFeedingBufferStrategy = buffer.Name(pf.Config.FeedingBufferStrategy)
	}
	cfg.AllowResourceOverallocation = pf.Config.AllowResourceOverallocation

	resources := make([]*ccpm.Resource, 0, len(pf.Resources))
	for _, rf := range pf.Resources {
		if rf.ID == "" {
			return nil, fmt.Errorf("resource id is required")
		}
		r := ccpm.NewResource(ccpm.ResourceId(rf.ID), rf.Capacity)
		for date, units := range rf.Calendar {
			if _, err := parseDate(date); err != nil {
				return nil, fmt.Errorf("resource %s: invalid calendar date %s: %w", rf.ID, date, err)
			}
			r.Calendar[date] = units
		}
		resources = append(resources, r)
	}

	seen := make(map[string]bool, len(pf.Tasks))
	tasks := make([]*ccpm.Task, 0, len(pf.Tasks))
	for _, tf := range pf.Tasks {
		if seen[tf.ID] {
			return nil, fmt.Errorf("duplicate task id %s", tf.ID)
		}
		seen[tf.ID] = true

		deps := make([]ccpm.TaskId, 0, len(tf.Dependencies))
		for _, d := range tf.Dependencies {
			deps = append(deps, ccpm.TaskId(d))
		}

		task, err := ccpm.NewTask(
			ccpm.TaskId(tf.ID), tf.Name,
			tf.AggressiveDuration, tf.SafeDuration,
			deps, tf.Resources,
		)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", tf.ID, err)
		}
		tasks = append(tasks, task)
	}

	return &Definition{
		Name:      pf.Name,
		StartDate: startDate,
		Config:    cfg,
		Tasks:     tasks,
		Resources: resources,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
