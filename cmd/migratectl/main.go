package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/melih/lighthouse-migrator/internal/app"
	"github.com/melih/lighthouse-migrator/internal/config"
	"github.com/melih/lighthouse-migrator/internal/core/domain"
	"github.com/melih/lighthouse-migrator/internal/core/ports"
	"github.com/melih/lighthouse-migrator/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "migratectl",
		Short:         "Move microservice endpoints between containers without downtime",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", config.GetEnvOrDefault("LIGHTHOUSE_CONFIG", ""), "path to the YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		c.containersCmd(),
		c.moveCmd(),
		c.redirectCmd(),
		c.decommissionCmd(),
		c.resizeCmd(),
		c.balanceCmd(),
		c.unbalanceCmd(),
		c.sweepCmd(),
	)
	return root
}

// run wires the migrator for one command and prints what fn returns as JSON.
// A workflow result is printed even when the workflow failed.
func (c *cli) run(cmd *cobra.Command, fn func(context.Context, ports.MigrationService) (any, error)) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Server.LogLevel = c.logLevel
	}
	logger, err := logging.New(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	migrator, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer migrator.Close()

	out, err := fn(cmd.Context(), migrator.Service)
	if out != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}

func (c *cli) containersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "containers",
		Short: "List running containers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.ListContainers(ctx)
			})
		},
	}
}

func (c *cli) moveCmd() *cobra.Command {
	var req ports.MoveRequest
	cmd := &cobra.Command{
		Use:   "move SOURCE NEW_NAME",
		Short: "Clone SOURCE as NEW_NAME and move an endpoint to the clone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.SourceID, req.NewName = args[0], args[1]
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.MoveToNewContainer(ctx, req)
			})
		},
	}
	endpointFlags(cmd, &req.ServiceID, &req.Function)
	return cmd
}

func (c *cli) redirectCmd() *cobra.Command {
	var req ports.RedirectRequest
	cmd := &cobra.Command{
		Use:   "redirect TARGET",
		Short: "Move an endpoint to an already running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.TargetID = args[0]
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.MoveToExistingContainer(ctx, req)
			})
		},
	}
	endpointFlags(cmd, &req.ServiceID, &req.Function)
	cmd.Flags().StringVar(&req.SourceID, "from", "", "container currently serving the endpoint (required with proxy routing)")
	return cmd
}

func (c *cli) decommissionCmd() *cobra.Command {
	var fallback string
	cmd := &cobra.Command{
		Use:   "decommission CONTAINER",
		Short: "Unroute, stop and remove a container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ports.DecommissionRequest{ContainerID: args[0]}
			if fallback != "" {
				b, err := domain.ParseBackend(fallback)
				if err != nil {
					return err
				}
				req.Fallback = &b
			}
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.Decommission(ctx, req)
			})
		},
	}
	cmd.Flags().StringVar(&fallback, "fallback", "", "host:port that takes over proxy locations (proxy routing)")
	return cmd
}

func (c *cli) resizeCmd() *cobra.Command {
	var res domain.Resources
	cmd := &cobra.Command{
		Use:   "resize CONTAINER",
		Short: "Change the memory and CPU limits of a running container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if res == (domain.Resources{}) {
				return errors.New("nothing to change: set --memory, --cpuset or --cpu-shares")
			}
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.UpdateResources(ctx, args[0], res)
			})
		},
	}
	cmd.Flags().Int64Var(&res.MemoryBytes, "memory", 0, "memory limit in bytes")
	cmd.Flags().StringVar(&res.CPUSet, "cpuset", "", "CPUs the container may use, e.g. 0-1,3")
	cmd.Flags().Int64Var(&res.CPUShares, "cpu-shares", 0, "relative CPU weight")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	var req ports.BalanceRequest
	cmd := &cobra.Command{
		Use:   "balance GROUP TARGET SERVER...",
		Short: "Spread the traffic for TARGET over a new upstream group",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Group, req.Target, req.Servers = args[0], args[1], args[2:]
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.Balance(ctx, req)
			})
		},
	}
	return cmd
}

func (c *cli) unbalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unbalance GROUP TARGET",
		Short: "Remove an upstream group and send its traffic to TARGET",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ports.UnbalanceRequest{Group: args[0], Target: args[1]}
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.Unbalance(ctx, req)
			})
		},
	}
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Remove clones left without traffic by failed migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, svc ports.MigrationService) (any, error) {
				return svc.Sweep(ctx)
			})
		},
	}
}

func endpointFlags(cmd *cobra.Command, service, function *string) {
	cmd.Flags().StringVar(service, "service", "", "service id of the endpoint")
	cmd.Flags().StringVar(function, "function", "", "function name of the endpoint")
	_ = cmd.MarkFlagRequired("service")
	_ = cmd.MarkFlagRequired("function")
}
