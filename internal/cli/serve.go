package cli

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lcrostarosa/entitlements/internal/app"
	"github.com/lcrostarosa/entitlements/internal/cli/runner"
	"github.com/lcrostarosa/entitlements/internal/logging"
	"github.com/lcrostarosa/entitlements/internal/middleware"
	"github.com/lcrostarosa/entitlements/internal/rpc"
	"github.com/lcrostarosa/entitlements/internal/scheduler"
	"github.com/lcrostarosa/entitlements/internal/server"
)

// mappingCheckInterval is how often serve checks whether the mapping needs a refresh
const mappingCheckInterval = time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Connect-RPC entitlement server",
	Long: `Start the Connect-RPC server exposing signature verification, offline
entitlement resolution and customer info lookups. With offline entitlements
enabled the product entitlement mapping is refreshed in the background.`,
	Example: `  # Start server on the configured address (default :8095)
  entitlements serve

  # Local development without API key auth
  entitlements serve --addr :9000 --dev`,
	RunE: runners.Backend().Wrap(runServe),
}

func init() {
	f := serveCmd.Flags()
	f.StringP("addr", "a", "", "Listen address (default: listen_addr from config)")
	f.Bool("dev", false, "Disable API key authentication (development only)")
	f.Float64("rps", middleware.DefaultRateLimitConfig().RequestsPerSecond, "Requests per second allowed per client")
	f.Int("burst", middleware.DefaultRateLimitConfig().BurstSize, "Burst size per client")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx *runner.CommandContext, cmd *cobra.Command, args []string) error {
	flags := runner.Flags(cmd)
	addr := flags.String("addr")
	dev := flags.Bool("dev")
	rps := flags.Float64("rps")
	burst := flags.Int("burst")
	if err := flags.Err(); err != nil {
		return err
	}

	c := ctx.Config
	if addr == "" {
		addr = c.ListenAddr
	}
	devMode := dev || c.DevMode
	if !devMode && c.ServerAPIKey == "" {
		logging.Warn("No server_api_key configured - all authenticated procedures will be rejected")
	}

	a, err := ctx.App(cmd.Context())
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	rpc.NewServer(rpc.ServerOptions{
		Engine:      a.Engine,
		Resolver:    a.Resolver,
		Coordinator: a.Coordinator,
		Session:     a.Session,
	}).RegisterHandlers(mux, &rpc.AuthConfig{APIKey: c.ServerAPIKey, DevMode: devMode})

	limiter := middleware.NewRateLimiter(&middleware.RateLimitConfig{
		RequestsPerSecond: rps,
		BurstSize:         burst,
		CleanupInterval:   time.Minute,
		MaxAge:            5 * time.Minute,
	})

	beforeStop := []func(){limiter.Stop}
	if sched := startMappingRefresh(cmd.Context(), a); sched != nil {
		beforeStop = append(beforeStop, sched.Stop)
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           middleware.Logging(limiter.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.Info("Entitlements server starting",
		logging.String("addr", addr),
		logging.String("verification", a.Engine.Mode().String()),
		logging.Bool("offline", c.Offline.Enabled),
		logging.Bool("dev", devMode))
	logging.Info("Press Ctrl+C to stop")

	return server.NewGracefulServer(httpServer, &server.GracefulServerOptions{BeforeStop: beforeStop}).ListenAndServe()
}

// startMappingRefresh keeps the product entitlement mapping fresh while serving. Returns
// nil when offline entitlements are disabled.
func startMappingRefresh(ctx context.Context, a *app.App) *scheduler.Scheduler {
	if !a.Coordinator.Enabled() {
		return nil
	}
	sched := scheduler.NewScheduler("product-entitlement-mapping", scheduler.Every(mappingCheckInterval),
		a.Coordinator.UpdateProductEntitlementMappingIfStale,
		&scheduler.Options{Retry: scheduler.DefaultRetryStrategy(), RunImmediately: true})
	sched.Start(context.WithoutCancel(ctx))
	return sched
}
