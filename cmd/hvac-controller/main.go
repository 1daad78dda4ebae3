// Command hvac-controller runs the HVAC control loop against a configured
// home-automation hub. Its shutdown sequencing is grounded on
// services/mape/cmd/server/main.go: signal-driven context cancellation, a
// bounded shutdown timeout, and a final log line before exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nrgchamp/hvac-controller/internal/config"
	"nrgchamp/hvac-controller/internal/controller"
	"nrgchamp/hvac-controller/internal/hub"
	"nrgchamp/hvac-controller/internal/logging"
	"nrgchamp/hvac-controller/internal/metrics"
	"nrgchamp/hvac-controller/internal/statusapi"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var httpAddr string
	var remoteAddr string

	root := &cobra.Command{
		Use:   "hvac-controller",
		Short: "Autonomous HVAC control loop driving a home-automation hub",
	}

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the controller and run until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath, httpAddr)
		},
	}
	startCmd.Flags().StringVar(&configPath, "config", "config.yaml", "path to the YAML configuration file")
	startCmd.Flags().StringVar(&httpAddr, "http-addr", ":8090", "diagnostics HTTP bind address")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Query the running controller's diagnostics endpoint and print its status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStatus(remoteAddr)
		},
	}

	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Force an immediate conditions refresh and Decision Engine evaluation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return triggerEvaluate(remoteAddr)
		},
	}

	for _, c := range []*cobra.Command{statusCmd, evaluateCmd} {
		c.Flags().StringVar(&remoteAddr, "addr", "http://127.0.0.1:8090", "diagnostics HTTP base URL")
	}

	root.AddCommand(startCmd, statusCmd, evaluateCmd)
	return root
}

// runStart wires configuration, the hub client, the controller and the
// diagnostics API, and blocks until SIGINT/SIGTERM or a fatal controller
// error.
func runStart(configPath, httpAddr string) error {
	log, logFile := logging.Init()
	if logFile != nil {
		defer logFile.Close()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("configuration load failed", "error", err)
		return err
	}

	client := hub.New(cfg.Hub.WSURL, cfg.Hub.AccessToken, log,
		hub.WithRetryPolicy(cfg.Hub.MaxRetries, time.Duration(cfg.Hub.RetryDelayMs)*time.Millisecond))

	m := metrics.New()
	ctrl := controller.New(cfg, log, client, m)
	api := statusapi.New(httpAddr, log, ctrl, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()

	go func() {
		log.Info("diagnostics api listening", "addr", httpAddr)
		if err := api.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("diagnostics api error", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	var fatal error
	select {
	case <-sig:
		log.Info("shutdown requested")
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("controller exited unexpectedly", "error", err)
			fatal = err
		}
		cancel()
	}

	shutdownAPI(api, log)
	log.Info("bye")
	return fatal
}

func shutdownAPI(api *statusapi.Server, log *slog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := api.Stop(shutdownCtx); err != nil {
		log.Warn("diagnostics api shutdown error", "error", err)
	}
}

func printStatus(addr string) error {
	resp, err := http.Get(addr + "/status")
	if err != nil {
		return fmt.Errorf("querying %s: %w", addr, err)
	}
	defer resp.Body.Close()

	var st map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return fmt.Errorf("decoding status response: %w", err)
	}
	for k, v := range st {
		fmt.Printf("%s: %v\n", k, v)
	}
	return nil
}

func triggerEvaluate(addr string) error {
	resp, err := http.Post(addr+"/evaluate", "application/json", nil)
	if err != nil {
		return fmt.Errorf("triggering evaluation at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("evaluation trigger rejected: %s", resp.Status)
	}
	fmt.Println("evaluation triggered")
	return nil
}
