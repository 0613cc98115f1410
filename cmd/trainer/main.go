// Offline trainer: fits the anomaly classifier from the full access-event
// history and writes the scaler/classifier artifacts the server loads.
package main

import (
	"context"
	"flag"
	"time"

	"securehealth/internal/client"
	"securehealth/internal/config"
	"securehealth/internal/detect"
	chrepo "securehealth/internal/repository/clickhouse"
	"securehealth/internal/repository/scylla"
	"securehealth/internal/train"
	"securehealth/internal/util"
)

func main() {
	var (
		outDir       = flag.String("out", "", "artifact output directory (default: DETECTION_MODEL_DIR)")
		testFraction = flag.Float64("test-fraction", 0.2, "holdout share for the accuracy report")
		epochs       = flag.Int("epochs", 400, "gradient descent epochs")
		learningRate = flag.Float64("lr", 0.1, "learning rate")
		seed         = flag.Int64("seed", 42, "split/shuffle seed")
		version      = flag.String("version", "v1", "artifact version tag")
	)
	flag.Parse()

	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	dir := *outDir
	if dir == "" {
		dir = cfg.Detection.ModelDir
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	ch, err := client.NewClickHouseClient(cfg, util.Get())
	if err != nil {
		util.Fatal("Failed to connect to ClickHouse", util.ErrorField(err))
	}
	defer ch.Close()

	scyllaClient, err := scylla.NewScyllaClient(cfg, util.Get())
	if err != nil {
		util.Fatal("Failed to connect to ScyllaDB", util.ErrorField(err))
	}
	defer scyllaClient.Close()

	events, err := chrepo.NewEventRepository(ch).QueryAll(ctx)
	if err != nil {
		util.Fatal("Failed to load event history", util.ErrorField(err))
	}
	util.Info("Event history loaded", util.Int("events", len(events)))

	users, err := scylla.NewUserRepository(scyllaClient).ListUsers(ctx)
	if err != nil {
		util.Fatal("Failed to load users", util.ErrorField(err))
	}
	roles := make(map[string]string, len(users))
	for _, u := range users {
		roles[u.UserID] = u.Role
	}

	model, report, err := train.Fit(events, roles, train.Options{
		TestFraction: *testFraction,
		LearningRate: *learningRate,
		Epochs:       *epochs,
		Seed:         *seed,
		Version:      *version,
	}, util.Get())
	if err != nil {
		util.Fatal("Training failed", util.ErrorField(err))
	}

	if err := detect.SaveArtifacts(dir, cfg.Detection.ScalerFile, cfg.Detection.ClassifierFile, model); err != nil {
		util.Fatal("Failed to write artifacts", util.ErrorField(err))
	}

	util.Info("Artifacts written",
		util.String("dir", dir),
		util.Int("train_rows", report.TrainRows),
		util.Int("test_rows", report.TestRows),
		util.Float64("holdout_accuracy", report.Accuracy),
	)
}
