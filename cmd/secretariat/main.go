package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	sec "dignitary-secretariat"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "secretariat",
		Short:        "Appointment request wizard and review service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml")
	root.AddCommand(newServeCmd(&configPath), newValidateCmd(), newHashTokenCmd())
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := sec.LoadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(ctx context.Context, cfg *sec.Config) error {
	sec.ConfigureLogger(sec.LogSettings{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Dest:   cfg.Logging.Dest,
	})
	logger := sec.Logger()
	defer logger.Sync() //nolint:errcheck

	storage, err := sec.NewStorage(cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer storage.Close()
	sec.SetAuditRepository(storage)

	wsManager := sec.NewWSManager()
	go wsManager.Run()
	defer wsManager.Stop()

	client := sec.NewAPIClient(sec.ClientConfig{
		BaseURL:    cfg.Backend.BaseURL,
		Timeout:    cfg.Backend.Timeout,
		RetryCount: cfg.Backend.RetryCount,
	})

	api := sec.NewAPI(sec.APIOptions{
		Auth:           sec.NewAuthenticator(cfg.Auth.JWTSecret),
		Backends:       client.Factory(),
		References:     sec.NewReferenceLoader(cfg.Backend.ReferenceTTL),
		Wizards:        sec.NewWizardRegistry(),
		Notifications:  sec.NewNotificationService(storage, wsManager),
		WS:             wsManager,
		AuditRepo:      storage,
		AuditTokenHash: cfg.Auth.AuditTokenHash,
		Attachments:    cfg.Wizard.Attachments,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Health:         storage.Ping,
	})
	defer api.Wizards().CloseAll()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", zap.String("addr", cfg.Server.Addr), zap.String("backend", cfg.Backend.BaseURL))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// validateInput is the file format read by the validate command.
type validateInput struct {
	Appointment  sec.Appointment  `json:"appointment"`
	StatusMap    sec.StatusMap    `json:"status_map"`
	SubStatusMap sec.SubStatusMap `json:"sub_status_map"`
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Run the appointment rules against a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var in validateInput
			if err := json.Unmarshal(data, &in); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			errs := sec.ValidateAppointment(in.Appointment, in.StatusMap, in.SubStatusMap)
			out := cmd.OutOrStdout()
			if !errs.HasErrors() {
				fmt.Fprintln(out, "ok")
				return nil
			}
			fields := make([]string, 0, len(errs))
			for f := range errs {
				fields = append(fields, f)
			}
			sort.Strings(fields)
			for _, f := range fields {
				fmt.Fprintf(out, "%s: %s\n", f, errs[f])
			}
			return fmt.Errorf("%d field(s) invalid", len(errs))
		},
	}
}

func newHashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print the bcrypt hash to configure as auth.audit_token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := sec.HashAuditToken(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
