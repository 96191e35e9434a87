// Package app provides the entry point for the gateway command-line
// application.
package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jesterbot/gateway/pkg/api"
	"github.com/jesterbot/gateway/pkg/config"
	"github.com/jesterbot/gateway/pkg/engine"
	"github.com/jesterbot/gateway/pkg/logger"
	"github.com/jesterbot/gateway/pkg/resolver"
	"github.com/jesterbot/gateway/pkg/storage/sqlite"
	"github.com/jesterbot/gateway/pkg/telemetry"
	"github.com/jesterbot/gateway/pkg/trace"

	// Register the built-in connector types.
	_ "github.com/jesterbot/gateway/pkg/connector/box"
	_ "github.com/jesterbot/gateway/pkg/connector/mail"
	_ "github.com/jesterbot/gateway/pkg/connector/warehouse"
)

var rootCmd = &cobra.Command{
	Use:               "gateway",
	DisableAutoGenTag: true,
	Short:             "Multi-tenant search/fetch gateway over pluggable data sources",
	Long: `gateway aggregates heterogeneous data-source connectors (mail,
warehouse, file storage) behind per-tenant virtual servers. Each virtual
server is addressed by its own endpoint from a configured pool and fans
search requests out across the sources wired into it; fetch requests are
routed back to the right backend by the opaque result identifier.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the gateway CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to gateway configuration file")
	if err := viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config")); err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.SilenceUsage = true
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: `Start the tenant-facing search/fetch server and the admin API.
The configuration file named by --config supplies the listen addresses,
the database path, and the endpoint pool.`,
		RunE: runServe,
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the gateway version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("gateway %s (built %s)\n", version, buildDate)
		},
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	db, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	sources := sqlite.NewSourceStore(db)
	servers := sqlite.NewServerStore(db)
	logs := sqlite.NewLogStore(db)

	auditor := trace.NewAuditor(logs, cfg.AuditQueueSize, telemetry.AuditDropsTotal.Inc)
	defer auditor.Close()

	res := resolver.New(servers, sources, auditor)
	eng := engine.New(engine.Config{
		SearchTimeout: cfg.SearchTimeout,
		FetchTimeout:  cfg.FetchTimeout,
	}, auditor)

	tenantRouter := api.NewTenantRouter(res, eng)
	adminRouter := api.NewAdminRouter(api.AdminDeps{
		Sources: sources,
		Servers: servers,
		Logs:    logs,
		Config:  cfg,
		Started: time.Now(),
	})

	logger.Infof("gateway starting: %d endpoints in pool, database %s",
		len(cfg.EndpointPool), cfg.DatabasePath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return api.Serve(gctx, cfg.ListenAddr, tenantRouter) })
	g.Go(func() error { return api.Serve(gctx, cfg.AdminAddr, adminRouter) })
	return g.Wait()
}
