package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/goinginblind/support-ticket-bot/internal/config"
	"github.com/goinginblind/support-ticket-bot/internal/ops"
)

var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck [addr]",
	Short: "Спросить grpc health у запущенного бота (для docker HEALTHCHECK)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHealthcheck,
}

func runHealthcheck(cmd *cobra.Command, args []string) error {
	addr := ""
	if len(args) == 1 {
		addr = args[0]
	} else {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		addr = cfg.GRPCHealthAddr
	}
	if addr == "" {
		return fmt.Errorf("healthcheck: GRPC_HEALTH_ADDR is not set")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
	defer cancel()
	status, err := ops.CheckHealth(ctx, addr)
	if err != nil {
		return err
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("healthcheck: status %s", status)
	}
	fmt.Fprintln(cmd.OutOrStdout(), status.String())
	return nil
}
