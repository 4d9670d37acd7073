package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

const lifecycleTimeout = 30 * time.Second

// loadEnv loads the first .env found in the working directory or up to two
// parents. Containers usually have none and rely on the environment.
func loadEnv() {
	dirs := []string{"."}
	if workDir, err := os.Getwd(); err == nil {
		parent := filepath.Dir(workDir)
		dirs = append(dirs, workDir, parent, filepath.Dir(parent))
	}

	for _, dir := range dirs {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err == nil {
			absPath, _ := filepath.Abs(envPath)
			fmt.Printf("Loaded environment from: %s\n", absPath)
			return
		}
	}
	fmt.Println("No .env file found, using system environment variables")
}

func main() {
	loadEnv()

	app := fx.New(
		fx.Provide(
			ProvideConfig,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideResolver,
			ProvideEvaluator,
			ProvideValidator,
			ProvideMQConnection,
			ProvidePublisher,
			ProvideAlertHub,
			ProvideVitalsHub,
			ProvideSnapshotStore,
			ProvideRiskService,
			ProvidePersisterService,
			ProvideFinalizerService,
			ProvideLiveService,
			ProvideAlertService,
			ProvideDashboardService,
			ProvideAssignmentService,
			ProvideAssignmentListener,
		),
		fx.Invoke(
			startWorker,
			startGateway,
			startHTTPServer,
		),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if startCtx.Err() == context.DeadlineExceeded {
			fmt.Fprintln(os.Stderr, "APPLICATION START TIMEOUT: a dependency (database, RabbitMQ, Redis or catalog) did not answer within 30 seconds")
		}
		fmt.Fprintln(os.Stderr, "failed to start:", err)
		os.Exit(1)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintln(os.Stderr, "error stopping app:", err)
	}
	os.Exit(exitCode)
}
