package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"askdocs/internal/ingest"
	"askdocs/internal/retrieval"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <paths|urls...>",
	Short: "Ingest files, directories or web pages into the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a, closeApp, err := build(ctx)
		if err != nil {
			return err
		}
		defer closeApp()

		sources, reports := collectSources(ctx, a.Fetcher, a.Loader, args)
		reports = append(reports, a.Retrieval.IngestAll(ctx, sources)...)

		if failed := writeReports(cmd.OutOrStdout(), reports); failed > 0 {
			return fmt.Errorf("%d of %d sources failed", failed, len(reports))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

type sourceFetcher interface {
	Fetch(ctx context.Context, url string) (retrieval.Source, error)
}

type sourceLoader interface {
	LoadFile(path string) (retrieval.Source, error)
	LoadDir(root string) ([]retrieval.Source, []error)
}

// collectSources resolves each argument to sources. Arguments that cannot be
// read come back as failed reports.
func collectSources(ctx context.Context, f sourceFetcher, l sourceLoader, args []string) ([]retrieval.Source, []retrieval.IngestReport) {
	var (
		sources []retrieval.Source
		failed  []retrieval.IngestReport
	)
	for _, arg := range args {
		if ingest.IsURL(arg) {
			src, err := f.Fetch(ctx, arg)
			if err != nil {
				failed = append(failed, retrieval.IngestReport{Origin: arg, Err: err})
				continue
			}
			sources = append(sources, src)
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			failed = append(failed, retrieval.IngestReport{Origin: arg, Err: err})
			continue
		}
		if info.IsDir() {
			srcs, errs := l.LoadDir(arg)
			sources = append(sources, srcs...)
			for _, err := range errs {
				failed = append(failed, retrieval.IngestReport{Origin: originOf(err, arg), Err: err})
			}
			continue
		}

		src, err := l.LoadFile(arg)
		if err != nil {
			failed = append(failed, retrieval.IngestReport{Origin: arg, Err: err})
			continue
		}
		sources = append(sources, src)
	}
	return sources, failed
}

func originOf(err error, fallback string) string {
	var ie *retrieval.IngestError
	if errors.As(err, &ie) && ie.Origin != "" {
		return ie.Origin
	}
	return fallback
}

// writeReports prints one line per report and returns how many failed.
func writeReports(w io.Writer, reports []retrieval.IngestReport) int {
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "FAIL %s: %v\n", r.Origin, r.Err)
			continue
		}
		fmt.Fprintf(w, "OK   %s (%d chunks, version %d)\n", r.Origin, r.Document.ChunkCount, r.Document.Version)
	}
	return failed
}
