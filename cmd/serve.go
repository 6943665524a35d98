package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"sitegate/internal/authz"
	"sitegate/internal/config"
	"sitegate/internal/controller"
	"sitegate/internal/credentials"
	"sitegate/internal/nonce"
	"sitegate/internal/oauth"
	"sitegate/internal/proxy"
	"sitegate/internal/server"
	"sitegate/internal/storage"
	"sitegate/pkg/logging"
)

// serveConfigPath specifies the configuration file path.
var serveConfigPath string

// serveDebug enables verbose logging across the application.
var serveDebug bool

// serveCmd starts the authentication service.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authentication service",
	Long: `Starts the HTTP service that owns the authentication entry points:

  - connect: sends an administrator to the identity provider (or, for a
    proxy installation without site credentials, into the proxy setup flow)
  - callback: consumes the provider's authorization code
  - disconnect: revokes and deletes the stored credentials
  - proxy setup: exchanges the proxy's code/site-code pair for site
    credentials

Configuration is read from a YAML file (--config); edits to the required
scope list are picked up without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe is the main entry point for the serve command.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(serveConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.Logging.Level)
	if serveDebug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	kv, err := openStorage(cfg)
	if err != nil {
		return err
	}
	creds := credentials.NewStore(kv)

	nonces := nonce.NewService()
	defer nonces.Stop()

	oauthClient, err := oauth.NewClient(cfg, creds)
	if err != nil {
		return fmt.Errorf("failed to initialize OAuth client: %w", err)
	}

	var proxyClient *proxy.Client
	if cfg.Proxy.Enabled {
		proxyClient = proxy.NewClient(cfg.Proxy.BaseURL)
	}

	ctrl := controller.New(cfg, oauthClient, proxyClient, creds, nonces,
		authz.NewStaticCapabilities(cfg.Auth.AdminIDs))
	srv := server.New(cfg, ctrl)

	// Scope changes in the config file take effect without a restart.
	if serveConfigPath != "" {
		watcher := config.NewWatcher(serveConfigPath, func(updated config.Config) {
			oauthClient.SetRequiredScopes(updated.Provider.RequiredScopes)
		})
		if err := watcher.Start(); err != nil {
			logging.Warn("Serve", "Config watcher unavailable: %v", err)
		} else {
			defer watcher.Stop()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
	case <-ctx.Done():
	}
	return srv.Shutdown(context.Background())
}

// openStorage selects the persistence backend: file-backed when a state
// directory is configured, in-memory otherwise.
func openStorage(cfg config.Config) (storage.Store, error) {
	if cfg.Storage.Dir == "" {
		logging.Warn("Serve", "No storage directory configured, state will not survive restarts")
		return storage.NewMemoryStore(), nil
	}
	kv, err := storage.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state directory: %w", err)
	}
	return kv, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Configuration file path")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
}
