package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/supplyrisk/internal/model"
)

var runScopePath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one organization cycle from a scope file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scope, err := loadScope(runScopePath)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		result, err := env.Aggregator.RunOrganization(ctx, *scope)
		if err != nil {
			return eris.Wrap(err, "organization run")
		}

		zap.L().Info("organization run complete",
			zap.String("organization_id", scope.ID),
			zap.Float64("score", result.Score.Score),
			zap.String("level", string(result.Score.Level)),
			zap.Int("suppliers", len(result.Suppliers)),
			zap.Int("failed", result.Failed),
			zap.Int("plans", len(result.Plans)),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// loadScope reads an organization scope from a YAML file.
func loadScope(path string) (*model.OrganizationScope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "read scope file")
	}
	var scope model.OrganizationScope
	if err := yaml.Unmarshal(data, &scope); err != nil {
		return nil, eris.Wrapf(err, "parse scope file %s", path)
	}
	return &scope, nil
}

func init() {
	runCmd.Flags().StringVar(&runScopePath, "scope", "", "organization scope YAML file (required)")
	_ = runCmd.MarkFlagRequired("scope")
	rootCmd.AddCommand(runCmd)
}
