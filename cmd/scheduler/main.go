// The scheduler command runs the periodic report digest: on a cron schedule
// it restores each stored project, regenerates its execution report and
// publishes the digest over NATS for dashboards and fever-chart renderers.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/flowchain/ccpm/internal/eventbus"
	"github.com/flowchain/ccpm/internal/scheduler"
	"github.com/flowchain/ccpm/internal/storage"
)

func main() {
	log.Printf("Starting CCPM digest scheduler")

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	dbCfg := &storage.Config{
		Host:        getEnv("DB_HOST", "localhost"),
		Port:        getEnv("DB_PORT", "5432"),
		User:        getEnv("DB_USER", "ccpm"),
		Password:    getEnv("DB_PASSWORD", "ccpm_dev_password"),
		DBName:      getEnv("DB_NAME", "ccpm_scheduler"),
		SSLMode:     getEnv("DB_SSLMODE", "disable"),
		MaxConns:    5,
		MinConns:    1,
		MaxIdleTime: 5 * time.Minute,
		MaxLifetime: 30 * time.Minute,
	}
	db, err := storage.NewDB(dbCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	repo := storage.NewProjectRepository(db.DB)

	busCfg := eventbus.DefaultConfig()
	busCfg.URL = getEnv("NATS_URL", busCfg.URL)
	busCfg.Name = "ccpm-digest"
	publisher, natsConn, err := eventbus.Connect(busCfg, logger)
	if err != nil {
		log.Fatalf("Failed to connect to NATS: %v", err)
	}
	defer natsConn.Close()

	produce := func(projectID string, at time.Time) (string, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		id, err := uuid.Parse(projectID)
		if err != nil {
			return "", err
		}
		model, err := repo.GetProject(ctx, id)
		if err != nil {
			return "", err
		}
		snap, err := repo.LoadSnapshot(ctx, id)
		if err != nil {
			return "", err
		}

		s := scheduler.Restore(scheduler.DefaultConfig(), model.StartDate, snap.Tasks, snap.Chains, snap.Buffers, snap.Resources)
		return s.GenerateExecutionReport(at), nil
	}

	digests := scheduler.NewDigestScheduler(time.UTC, produce, func(projectID, report string) {
		if err := publisher.PublishReport(projectID, report); err != nil {
			logger.WithField("project_id", projectID).WithError(err).Error("failed to publish digest")
			return
		}
		logger.WithField("project_id", projectID).Info("published report digest")
	})

	schedule := getEnv("DIGEST_SCHEDULE", "0 7 * * *") // 07:00 UTC daily
	if err := registerStoredProjects(repo, digests, schedule, logger); err != nil {
		log.Fatalf("Failed to register projects: %v", err)
	}

	digests.Start()
	defer digests.Stop()

	log.Printf("Digest scheduler running with schedule %q for %d projects", schedule, len(digests.ScheduledProjects()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutting down digest scheduler")
}

func registerStoredProjects(repo storage.ProjectRepository, digests *scheduler.DigestScheduler, schedule string, logger *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	projects, err := repo.ListProjects(ctx, 0, 0)
	if err != nil {
		return err
	}
	for _, p := range projects {
		if err := digests.AddProject(p.ID.String(), schedule); err != nil {
			logger.WithField("project_id", p.ID).WithError(err).Warn("skipping project")
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
