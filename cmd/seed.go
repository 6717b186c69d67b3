package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/stackconsult/prospectpulse/internal/model"
)

var seedFile string

type workspaceFixture struct {
	Workspaces []model.Workspace `yaml:"workspaces"`
}

// readWorkspaceFixture parses a workspace seed file.
func readWorkspaceFixture(path string) ([]model.Workspace, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var fixture workspaceFixture
	if err := yaml.Unmarshal(raw, &fixture); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	for i, ws := range fixture.Workspaces {
		if ws.ID == "" {
			return nil, eris.Errorf("workspace %d in %s has no id", i, path)
		}
	}
	return fixture.Workspaces, nil
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load workspaces from a YAML fixture into the store",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		workspaces, err := readWorkspaceFixture(seedFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		for _, ws := range workspaces {
			if err := env.Store.PutWorkspace(ctx, ws); err != nil {
				return eris.Wrapf(err, "save workspace %s", ws.ID)
			}
			zap.L().Info("workspace saved", zap.String("workspace_id", ws.ID))
		}

		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedFile, "file", "workspaces.yaml", "workspace fixture file")
	rootCmd.AddCommand(seedCmd)
}
