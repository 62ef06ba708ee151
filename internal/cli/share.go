package cli

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/veranemoloko/romfetch/internal/metadata"
	"github.com/veranemoloko/romfetch/internal/smb"
)

// newShareCmd creates the 'share' command group.
func newShareCmd() *cobra.Command {
	shareCmd := &cobra.Command{
		Use:   "share",
		Short: "SMB share operations (ls, test, get, put, mv, rm)",
		Long: `Commands for working with SMB shares directly.

Every target is written as smb://[user:password@]server[:port]/share[/path].`,
	}
	addShareFlags(shareCmd)

	shareCmd.AddCommand(newShareListCmd())
	shareCmd.AddCommand(newShareTestCmd())
	shareCmd.AddCommand(newShareGetCmd())
	shareCmd.AddCommand(newSharePutCmd())
	shareCmd.AddCommand(newShareMoveCmd())
	shareCmd.AddCommand(newShareRemoveCmd())

	return shareCmd
}

func newShareClient() (*smb.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return smb.NewClient(cfg.SMBDialTimeout, newLogger()), nil
}

func newShareListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <smb-url>",
		Short: "List files below a share path with their detected system",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			files, err := client.List(cmd.Context(), target.Server, target.Share, target.SubPath, target.Credentials)
			if err != nil {
				return fmt.Errorf("failed to list share: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tSIZE\tSYSTEM")
			for _, f := range files {
				info := metadata.Extract(f.RelativePath, f.Name)
				fmt.Fprintf(tw, "%s\t%s\t%s\n", f.RelativePath, humanize.IBytes(uint64(f.Size)), metadata.DisplayName(info.SystemID))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d files\n", len(files))
			return nil
		},
	}
}

func newShareTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test <smb-url>",
		Short: "Check that a share can be mounted and read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			ok, err := client.TestConnection(cmd.Context(), target.Server, target.Share, target.Credentials)
			if !ok {
				return fmt.Errorf("connection to %s failed: %w", target.URL(), err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is reachable\n", target.URL())
			return nil
		},
	}
}

func newShareGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <smb-url> [local-path]",
		Short: "Download one file from a share",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[0])
			if err != nil {
				return err
			}
			local := path.Base(target.SubPath)
			if len(args) == 2 {
				local = args[1]
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			f, err := os.Create(local)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", local, err)
			}

			bar := newBytesBar(-1, filepath.Base(local))
			err = client.Download(cmd.Context(), target.Server, target.Share, target.SubPath, target.Credentials, f, func(done, total int64) {
				if total > 0 && bar.GetMax64() != total {
					bar.ChangeMax64(total)
				}
				_ = bar.Set64(done)
			})
			_ = bar.Finish()
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(local)
				return fmt.Errorf("download failed: %w", err)
			}
			return nil
		},
	}
}

func newSharePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local-path> <smb-url>",
		Short: "Upload one file to a share, replacing any existing file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[1])
			if err != nil {
				return err
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return err
			}

			bar := newBytesBar(info.Size(), filepath.Base(args[0]))
			reader := progressbar.NewReader(f, bar)
			if err := client.Upload(cmd.Context(), target.Server, target.Share, target.SubPath, &reader, target.Credentials); err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			_ = bar.Finish()
			return nil
		},
	}
}

func newShareMoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <smb-url> <new-path-in-share>",
		Short: "Move or rename a file inside a share",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			if err := client.Move(cmd.Context(), target.Server, target.Share, target.SubPath, args[1], target.Credentials); err != nil {
				return fmt.Errorf("move failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ moved %s to %s\n", target.SubPath, args[1])
			return nil
		},
	}
}

func newShareRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <smb-url>",
		Short: "Delete a file from a share",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseShareTarget(args[0])
			if err != nil {
				return err
			}
			client, err := newShareClient()
			if err != nil {
				return err
			}

			if err := client.Delete(cmd.Context(), target.Server, target.Share, target.SubPath, target.Credentials); err != nil {
				return fmt.Errorf("delete failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ deleted %s\n", target.SubPath)
			return nil
		},
	}
}

func newBytesBar(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
}
