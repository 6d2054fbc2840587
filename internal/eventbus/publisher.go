// Package eventbus publishes scheduling and execution events over NATS for
// external collaborators: a fever-chart renderer subscribes to buffer status
// changes, a dashboard to task transitions and report digests. The engine
// itself stays a pure computation; everything here happens at the service
// edge after an engine call returns.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/flowchain/ccpm/internal/retry"
	"github.com/flowchain/ccpm/internal/state"
)

// Subject layout. The project id is the wildcard-friendly token so a
// renderer can subscribe to one project or all of them.
const (
	subjectPrefix         = "ccpm.project"
	subjectSuffixTask     = "task"
	subjectSuffixBuffer   = "buffer"
	subjectSuffixReport   = "report"
	subjectSuffixSchedule = "schedule"
)

// TaskSubject returns the subject task transition events for a project are
// published on.
func TaskSubject(projectID string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, projectID, subjectSuffixTask)
}

// BufferSubject returns the subject buffer status events for a project are
// published on.
func BufferSubject(projectID string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, projectID, subjectSuffixBuffer)
}

// ReportSubject returns the subject execution report digests for a project
// are published on.
func ReportSubject(projectID string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, projectID, subjectSuffixReport)
}

// ScheduleSubject returns the subject schedule-completed events for a
// project are published on.
func ScheduleSubject(projectID string) string {
	return fmt.Sprintf("%s.%s.%s", subjectPrefix, projectID, subjectSuffixSchedule)
}

// Event is the wire shape of every bus message.
type Event struct {
	Type       string                 `json:"type"`
	ProjectID  string                 `json:"project_id"`
	EntityType string                 `json:"entity_type,omitempty"`
	EntityID   string                 `json:"entity_id,omitempty"`
	OldStatus  string                 `json:"old_status,omitempty"`
	NewStatus  string                 `json:"new_status,omitempty"`
	At         time.Time              `json:"at"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// conn is the slice of *nats.Conn the publisher needs, split out so tests
// can substitute an in-memory fake.
type conn interface {
	Publish(subject string, data []byte) error
}

// Publisher publishes CCPM events to NATS with bounded retries. It
// implements state.EventPublisher so the state manager can fan transitions
// straight onto the bus.
type Publisher struct {
	conn   conn
	retry  *retry.Executor
	logger *logrus.Logger
}

// Config holds the publisher's connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	PublishTries  int
}

// DefaultConfig returns the publisher defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Name:          "ccpm-engine",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		PublishTries:  3,
	}
}

// Connect dials NATS and returns a Publisher over the connection.
func Connect(cfg Config, logger *logrus.Logger) (*Publisher, *nats.Conn, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	return NewPublisher(nc, cfg.PublishTries, logger), nc, nil
}

// NewPublisher wraps an established NATS connection.
func NewPublisher(nc conn, publishTries int, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{
		conn:   nc,
		retry:  retry.NewExecutor(publishTries, retry.DefaultExponential()),
		logger: logger,
	}
}

// Publish implements state.EventPublisher: task transitions go to the task
// subject, buffer band changes to the buffer subject.
func (p *Publisher) Publish(event state.TransitionEvent) error {
	subject := TaskSubject(event.ProjectID)
	eventType := "task_transition"
	if event.EntityType == "buffer" {
		subject = BufferSubject(event.ProjectID)
		eventType = "buffer_status"
	}

	return p.publish(subject, Event{
		Type:       eventType,
		ProjectID:  event.ProjectID,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		OldStatus:  event.OldStatus,
		NewStatus:  event.NewStatus,
		At:         time.Now().UTC(),
		Payload:    event.Metadata,
	})
}

// PublishReport publishes an execution report digest.
func (p *Publisher) PublishReport(projectID, report string) error {
	return p.publish(ReportSubject(projectID), Event{
		Type:      "execution_report",
		ProjectID: projectID,
		At:        time.Now().UTC(),
		Payload:   map[string]interface{}{"report": report},
	})
}

// PublishScheduled announces that a project was (re)scheduled, carrying the
// resulting chain and buffer summary for subscribers that do not want to
// re-fetch the whole project.
func (p *Publisher) PublishScheduled(projectID string, summary map[string]interface{}) error {
	return p.publish(ScheduleSubject(projectID), Event{
		Type:      "project_scheduled",
		ProjectID: projectID,
		At:        time.Now().UTC(),
		Payload:   summary,
	})
}

func (p *Publisher) publish(subject string, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = p.retry.Do(ctx, func() error {
		return p.conn.Publish(subject, data)
	})
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"subject": subject,
			"type":    event.Type,
		}).WithError(err).Error("dropping event after exhausted publish retries")
		return err
	}
	return nil
}

// Subscribe delivers every event on a project's subjects to handler until
// ctx is done. Pass "*" as projectID to observe every project.
func Subscribe(ctx context.Context, nc *nats.Conn, projectID string, handler func(Event)) (*nats.Subscription, error) {
	subject := fmt.Sprintf("%s.%s.>", subjectPrefix, projectID)
	sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()

	return sub, nil
}
