package cli

import (
	"context"
	"fmt"
	"time"

	"erp_wa/internal/config"
	"erp_wa/internal/logging"
	"erp_wa/internal/whatsapp"

	"github.com/spf13/cobra"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Describe the configured stores and the paired device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFiles(); err != nil {
				return err
			}
			cfg := config.FromEnv()
			log := logging.New(cfg.Log)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			transport := whatsapp.NewWhatsmeowTransport(storeConfig(cfg), logging.Component(log, "whatsmeow"))
			device, err := transport.PairedDevice(ctx)
			if err != nil {
				return fmt.Errorf("read credential store: %w", err)
			}
			if device == "" {
				device = "none"
			}

			fmt.Fprintln(cmd.OutOrStdout(), describe(cfg, device))
			return nil
		},
	}
}

func describe(cfg *config.Config, device string) string {
	redis := "disabled"
	if cfg.Redis.Enabled {
		redis = cfg.Redis.Addr
	}
	return fmt.Sprintf("database=%s credentials=%s paired_device=%s redis=%s listen=%s",
		cfg.Database.Type, cfg.WhatsApp.StoreDriver, device, redis, cfg.Server.Address)
}

func storeConfig(cfg *config.Config) whatsapp.StoreConfig {
	return whatsapp.StoreConfig{Driver: cfg.WhatsApp.StoreDriver, DSN: cfg.WhatsApp.StoreDSN}
}
