package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"sort"

	"github.com/spf13/cobra"

	"github.com/veranemoloko/romfetch/internal/app"
	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/validation"
)

// newGetCmd creates the 'get' command.
func newGetCmd() *cobra.Command {
	var system string
	var itemID string
	var dest string

	cmd := &cobra.Command{
		Use:   "get <url>...",
		Short: "Download files and place them in the library",
		Long: `Download one or more files through the download engine. Each file is
classified after the download and placed under <system>/ in the library.

Example:
  romctl get --system snes "https://archive.org/download/snes-pack/Chrono%20Trigger%20(USA).zip"
  romctl get --dest smb://nas/games/roms smb://nas/incoming/Sonic.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validation.ValidateURLs(args); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, newLogger())
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
				defer cancel()
				_ = a.Close(ctx)
			}()

			if dest != "" {
				target, err := parseShareTarget(dest)
				if err != nil {
					return err
				}
				a.Downloads.SetLibraryDestination(&target)
			}

			item := domain.CollectionItem{ID: itemID, SystemID: system}
			if shareUser != "" {
				item.Credentials = &domain.Credentials{Username: shareUser, Password: sharePassword, Domain: shareDomain}
			}

			ids := make(map[string]struct{}, len(args))
			for _, raw := range args {
				job, err := a.Downloads.RequestDownload(item, domain.DownloadableFile{Name: fileNameOf(raw), URL: raw})
				if err != nil {
					return err
				}
				ids[job.ID] = struct{}{}
			}

			final := waitForJobs(cmd.Context(), a.Downloads.Watch(cmd.Context()), ids)
			return reportJobs(cmd, final, len(ids))
		},
	}

	cmd.Flags().StringVarP(&system, "system", "s", "", "Declared system, used when detection fails")
	cmd.Flags().StringVar(&itemID, "item", "cli", "Collection id the files belong to")
	cmd.Flags().StringVar(&dest, "dest", "", "Library share for this run (smb://server/share/path)")
	addShareFlags(cmd)

	return cmd
}

func fileNameOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return path.Base(raw)
	}
	return path.Base(u.Path)
}

// waitForJobs follows snapshots until every job in ids is terminal or gone,
// drawing one aggregate progress bar.
func waitForJobs(ctx context.Context, updates <-chan map[string]domain.DownloadJob, ids map[string]struct{}) map[string]domain.DownloadJob {
	bar := newBytesBar(-1, "downloading")
	defer func() { _ = bar.Finish() }()

	final := make(map[string]domain.DownloadJob, len(ids))

	for {
		select {
		case <-ctx.Done():
			return final
		case snap, ok := <-updates:
			if !ok {
				return final
			}
			var done, total int64
			pending := 0
			for id := range ids {
				job, ok := snap[id]
				if !ok {
					continue
				}
				done += job.DownloadedBytes
				total += job.TotalBytes
				if job.Status.IsTerminal() {
					final[id] = job
				} else {
					pending++
				}
			}
			if total > 0 && bar.GetMax64() != total {
				bar.ChangeMax64(total)
			}
			_ = bar.Set64(done)
			if pending == 0 {
				return final
			}
		}
	}
}

func reportJobs(cmd *cobra.Command, jobs map[string]domain.DownloadJob, requested int) error {
	out := cmd.OutOrStdout()
	list := make([]domain.DownloadJob, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	failed := requested - len(list)
	for _, j := range list {
		if j.Status == domain.JobStatusCompleted {
			fmt.Fprintf(out, "✓ %s -> %s (%s)\n", j.FileName, j.FilePath, j.Backend)
			continue
		}
		failed++
		fmt.Fprintf(os.Stderr, "✗ %s: %s\n", j.FileName, j.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d downloads failed", failed, requested)
	}
	return nil
}
