package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/veranemoloko/romfetch/internal/classifier"
	"github.com/veranemoloko/romfetch/internal/domain"
	"github.com/veranemoloko/romfetch/internal/metadata"
)

// newClassifyCmd creates the 'classify' command.
func newClassifyCmd() *cobra.Command {
	var dbPath string
	var declared string
	var workers int

	cmd := &cobra.Command{
		Use:   "classify <file>...",
		Short: "Fingerprint local files and detect their game system",
		Long: `Compute the CRC32 fingerprint of each file (or of the first entry of a
zip or 7z archive) and look it up in the metadata database.

Example:
  romctl classify --db games.sqlite "Chrono Trigger (USA).zip"
  romctl classify --system snes roms/*.zip`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

			lookups := []metadata.Lookup{}
			if dbPath != "" {
				db, err := metadata.OpenRomDB(dbPath, logger)
				if err != nil {
					return err
				}
				defer db.Close()
				lookups = append(lookups, db)
			}
			lookups = append(lookups, metadata.PathLookup{})
			c := classifier.New(metadata.NewComposite(logger, lookups...), logger)

			results, err := classifyFiles(cmd.Context(), c, args, declared, workers)
			if err != nil {
				return err
			}
			return printClassification(cmd.OutOrStdout(), args, results)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite metadata database")
	cmd.Flags().StringVar(&declared, "system", "", "System to assume when detection fails")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Files fingerprinted in parallel")

	return cmd
}

// classifyFiles classifies files concurrently; results keep the order of files.
func classifyFiles(ctx context.Context, c *classifier.Classifier, files []string, declared string, workers int) ([]domain.ClassificationResult, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]domain.ClassificationResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = c.Classify(ctx, f, filepath.Base(f), f, declared)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func printClassification(w io.Writer, files []string, results []domain.ClassificationResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCRC32\tSYSTEM\tDETECTED\tTITLE")
	for i, r := range results {
		title := ""
		if r.Metadata != nil {
			title = r.Metadata.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", filepath.Base(files[i]), r.CRC, metadata.DisplayName(r.SystemID), r.Detected, title)
	}
	return tw.Flush()
}

