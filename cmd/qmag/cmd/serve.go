package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quatton/qmag/pkg/db"
	"github.com/quatton/qmag/pkg/kv"
	"github.com/quatton/qmag/pkg/qapi"
	"github.com/quatton/qmag/pkg/qapi/config"
	"github.com/quatton/qmag/pkg/qapi/services"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the remote execution API",
	Long: `Start a qmag server that executes runs submitted by the remote runner.

The server is configured from the environment (and a .env file in
development): PORT, RUNNER, OOMMF_COMMAND, DOCKER_IMAGE, WORK_DIR,
AUTH_SECRET, VALKEY_URL, RUN_TTL, HISTORY_ENABLED with DB_*, and S3_*.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ValidateEnv()
	if err != nil {
		return err
	}
	cfg.Print(log.Printf)
	logger := GetLogger(cmd)

	var kvStore kv.Store = kv.NewMemoryStore()
	if cfg.ValkeyURL != "" {
		vs, err := kv.NewValkeyStoreFromURL(cfg.ValkeyURL)
		if err != nil {
			return fmt.Errorf("connecting to valkey: %w", err)
		}
		kvStore = vs
	}
	defer kvStore.Close()

	var database *bun.DB
	if cfg.HistoryEnabled {
		database, err = db.New(ctx, cfg.DB)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer database.Close()
	}

	svcs, err := services.NewServices(ctx, cfg, database, kvStore, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	defer svcs.Close()

	api := qapi.NewApi(svcs, logger)
	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: api.Router, ReadHeaderTimeout: 10 * time.Second}

	log.Printf("🚀 qmag server starting on %s (runner: %s)\n", addr, svcs.Runs.Backend())
	log.Printf("📚 OpenAPI docs: http://localhost%s/docs\n", addr)
	log.Printf("📄 OpenAPI spec: http://localhost%s/openapi.json\n", addr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
