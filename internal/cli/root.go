// Package cli provides the romctl command-line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	cfgpkg "github.com/veranemoloko/romfetch/internal/config"
	"github.com/veranemoloko/romfetch/internal/domain"
)

var (
	// Global flags
	envFile string
	verbose bool

	// Share credentials, used when the url carries none
	shareUser     string
	sharePassword string
	shareDomain   string
)

// NewRootCmd creates the romctl root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "romctl",
		Short: "Download ROMs into a sorted game library",
		Long: `romctl downloads ROM files from HTTP catalogs and SMB shares, detects the
game system of each file and places it under <system>/ in the library.

The library is an SMB share (--dest or RF_LIBRARY_DESTINATION), a scoped
folder (RF_SCOPED_ROOT) or a plain directory (RF_ROMS_DIR).`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional env file with RF_* settings")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output (shows debug messages)")

	rootCmd.AddCommand(newShareCmd())
	rootCmd.AddCommand(newClassifyCmd())
	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newServeCmd())

	return rootCmd
}

func loadConfig() (*cfgpkg.Config, error) {
	cfg, err := cfgpkg.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger logs to stderr so command output on stdout stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func addShareFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVarP(&shareUser, "user", "u", "", "Share user name (default: guest)")
	cmd.PersistentFlags().StringVar(&sharePassword, "password", "", "Share password")
	cmd.PersistentFlags().StringVar(&shareDomain, "domain", "", "Share NTLM domain")
}

// parseShareTarget parses smb://server/share/path and applies the
// credential flags when the url has no user info.
func parseShareTarget(raw string) (domain.LibraryDestination, error) {
	target, err := domain.ParseShareURL(raw)
	if err != nil {
		return domain.LibraryDestination{}, err
	}
	if target.Credentials == nil && shareUser != "" {
		target.Credentials = &domain.Credentials{
			Username: shareUser,
			Password: sharePassword,
			Domain:   shareDomain,
		}
	}
	return target, nil
}
