package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "supplyrisk",
	Short: "Supply-chain risk monitoring and scoring",
	Long:  "Runs risk analyzers for every supplier of an organization, scores suppliers and the organization, drafts mitigation plans and streams progress.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := applyFlags(cmd, c); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	addRootFlags(rootCmd)
}

func addRootFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("store", "", "store driver: postgres or sqlite (overrides store.driver)")
	pf.String("database-url", "", "postgres URL or sqlite file path (overrides store.database_url)")
	pf.String("log-level", "", "log level (overrides log.level)")
	pf.String("log-format", "", "json or console (overrides log.format)")
}

// applyFlags layers explicitly set root flags over file and env config.
func applyFlags(cmd *cobra.Command, c *config.Config) error {
	targets := map[string]*string{
		"store":        &c.Store.Driver,
		"database-url": &c.Store.DatabaseURL,
		"log-level":    &c.Log.Level,
		"log-format":   &c.Log.Format,
	}
	for name, dst := range targets {
		if !cmd.Flags().Changed(name) {
			continue
		}
		v, err := cmd.Flags().GetString(name)
		if err != nil {
			return fmt.Errorf("read --%s: %w", name, err)
		}
		*dst = v
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
