package cmd

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"sitegate/internal/config"
	"sitegate/internal/credentials"
	"sitegate/internal/scopes"
	"sitegate/internal/storage"
)

// statusConfigPath specifies the configuration file path.
var statusConfigPath string

// statusCmd reports the persisted credential state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the site's credential and authentication state",
	Long: `Reads the persisted state and reports whether the site holds client
credentials and, per user, whether a token exists, when it expires, and
whether the granted scopes still cover the configured required scopes.

Token and secret values are never printed.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

// runStatus is the main entry point for the status command.
func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(statusConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.Storage.Dir == "" {
		return fmt.Errorf("no storage directory configured, nothing to report")
	}

	kv, err := storage.NewFileStore(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}
	creds := credentials.NewStore(kv)

	out := cmd.OutOrStdout()

	clientID, _, err := creds.ClientCredentials()
	if err != nil {
		return err
	}
	firstAdmin, err := creds.FirstAdminID()
	if err != nil {
		return err
	}

	site := table.NewWriter()
	site.SetOutputMirror(out)
	site.SetStyle(table.StyleRounded)
	site.AppendHeader(table.Row{"Site", ""})
	site.AppendRow(table.Row{"Connected", yesNo(creds.Has())})
	site.AppendRow(table.Row{"Client ID", orDash(clientID)})
	site.AppendRow(table.Row{"First Admin", orDash(firstAdmin)})
	site.Render()

	users, err := creds.Users()
	if err != nil {
		return err
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "No users have authenticated yet.")
		return nil
	}

	required := scopes.Normalize(cfg.Provider.RequiredScopes)

	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"User", "Authenticated", "Token Expiry", "Scopes", "Needs Reauth", "Pending Error"})
	for _, userID := range users {
		rec, err := creds.Get(userID)
		if err != nil {
			return err
		}
		hasToken := rec.AccessToken != ""

		expiry := "-"
		if hasToken && !rec.Expiry.IsZero() {
			expiry = rec.Expiry.Format(time.RFC3339)
		}

		// Peek without consuming: the read-once contract belongs to the
		// notice surface, not to a status report.
		errCode, err := creds.PeekErrorCode(userID)
		if err != nil {
			return err
		}

		t.AppendRow(table.Row{
			userID,
			yesNo(hasToken),
			expiry,
			fmt.Sprintf("%d/%d", len(scopes.Intersect(rec.GrantedScopes, required)), len(required)),
			yesNo(scopes.NeedsReauth(rec.GrantedScopes, required, hasToken)),
			orDash(errCode),
		})
	}
	t.Render()

	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "Configuration file path")
}
