package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wwwzy/sweepchat/internal/housekeeping"
	"github.com/wwwzy/sweepchat/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	Long: `Run the HTTP server that receives Twilio WhatsApp/SMS webhooks and the
JSON chatbot API, together with the background retention job.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Info("initializing storage and agents")
		a, err := newApp(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		retCfg := cfg.Retention
		retCfg.OnError = func(err error) {
			log.WithError(err).Warn("retention pass failed")
		}
		mgr, err := housekeeping.NewManager(retCfg)
		if err != nil {
			return fmt.Errorf("create housekeeping manager: %w", err)
		}
		ret, err := housekeeping.NewRetentionCollector(a.store)
		if err != nil {
			return fmt.Errorf("create retention collector: %w", err)
		}
		mgr.WithRetention(ret)
		if err := mgr.Start(ctx); err != nil {
			return fmt.Errorf("start housekeeping: %w", err)
		}

		srv := server.New(cfg.Server, a.service, log)
		runErr := srv.Run(ctx)

		mgr.Stop()
		if err := mgr.Wait(); err != nil {
			log.WithError(err).Error("housekeeping stopped with error")
		}
		if runErr != nil {
			return runErr
		}
		log.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
