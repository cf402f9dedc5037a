package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/nandemo-ya/testcontainers-go-pinot/internal/progress"
	"github.com/nandemo-ya/testcontainers-go-pinot/pinottest"
)

var healthTimeout time.Duration

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the controller and broker health endpoints",
	Long: `Check the health endpoints of the controller and broker configured by
pinot.controller.url and pinot.broker.url (or PINOT_CONTROLLER_URL and
PINOT_BROKER_URL).`,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 10*time.Second, "Timeout for each request")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 2*healthTimeout)
	defer cancel()

	controller, broker, err := pinottest.NewClients()
	if err != nil {
		return err
	}

	checks := []struct {
		name  string
		url   string
		check func(context.Context) error
	}{
		{"controller", controller.BaseURL(), controller.Health},
		{"broker", broker.BaseURL(), broker.Health},
	}

	var firstErr error
	for _, c := range checks {
		spinner := progress.NewSpinner("Checking " + c.name + " at " + c.url)
		spinner.Start()

		checkCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := c.check(checkCtx)
		cancel()
		if err != nil {
			spinner.Fail(c.name + " is unhealthy: " + err.Error())
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		spinner.Success(c.name + " is healthy")
	}
	return firstErr
}
