package cli

import (
	"github.com/spf13/cobra"

	"github.com/veranemoloko/romfetch/internal/app"
	cfgpkg "github.com/veranemoloko/romfetch/internal/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, cfgpkg.SetupLogger(cfg))
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
}
