// Package serve runs the HTTP API: the payment provider webhook, checkout
// session creation and a health probe.
package serve

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/dailyfuel/dailyfuel/billing"
	"github.com/dailyfuel/dailyfuel/config"
	"github.com/dailyfuel/dailyfuel/identity"
	"github.com/dailyfuel/dailyfuel/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the HTTP API server.

Serves the payment provider webhook, checkout session creation and a
health probe. Configuration is read from the environment (and .env when
present); see the README for the variable list.`,
	RunE: serveCommand,
}

const listenFlag = "listen"

var serveFlags = map[string]cobraflags.Flag{
	listenFlag: &cobraflags.StringFlag{
		Name:  listenFlag,
		Value: "",
		Usage: "Listen address (overrides LISTEN_ADDR)",
	},
}

func NewServeCommand() *cobra.Command {
	cobraflags.RegisterMap(serveCmd, serveFlags)
	return serveCmd
}

func serveCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	addr := cfg.ListenAddr
	if v := serveFlags[listenFlag].GetString(); v != "" {
		addr = v
	}

	db, err := store.Open(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	router := NewRouter(cfg, store.NewUserStore(db))

	slog.Info("Starting HTTP server", "addr", addr)
	if err := http.ListenAndServe(addr, router); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}

// NewRouter assembles the gin engine with all routes and middleware.
func NewRouter(cfg *config.Config, users *store.UserStore) *gin.Engine {
	provider := billing.NewStripeClient(cfg.Stripe.SecretKey)
	provisioner := identity.NewClient(cfg.Supabase.URL, cfg.Supabase.ServiceRoleKey)

	reconciler := billing.NewReconciler(users, provider, provisioner, cfg.Stripe.Plans, cfg.Stripe.WebhookSecret)
	checkout := billing.NewCheckoutHandler(provider)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.Default())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	billing.Routes(router, reconciler, checkout)
	return router
}
