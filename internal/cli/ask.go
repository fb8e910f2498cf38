package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"askdocs/features/ask"
	"askdocs/internal/retrieval"
)

var (
	askTopK     int
	askMinScore float32
	askSkipFAQ  bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the knowledge base",
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

		opts := retrieval.QueryOptions{SkipFAQ: askSkipFAQ}
		if cmd.Flags().Changed("top-k") {
			opts.TopK = &askTopK
		}
		if cmd.Flags().Changed("min-score") {
			opts.MinScore = &askMinScore
		}

		reply, err := a.Ask.Ask(ctx, strings.Join(args, " "), opts)
		if err != nil {
			return err
		}
		writeReply(cmd.OutOrStdout(), reply)
		return nil
	},
}

func init() {
	askCmd.Flags().IntVar(&askTopK, "top-k", 0, "number of results to retrieve; defaults to the stored setting")
	askCmd.Flags().Float32Var(&askMinScore, "min-score", 0, "minimum similarity of a result; defaults to the stored setting")
	askCmd.Flags().BoolVar(&askSkipFAQ, "skip-faq", false, "search documents even when an FAQ matches")
	rootCmd.AddCommand(askCmd)
}

func writeReply(w io.Writer, reply *ask.Reply) {
	fmt.Fprintln(w, reply.Answer)
	if len(reply.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, src := range reply.Sources {
		fmt.Fprintf(w, "[Source %d] %s (%.3f)\n", i+1, citationLabel(src), src.Score)
	}
}

func citationLabel(r retrieval.Result) string {
	if r.Kind == retrieval.ResultFAQ {
		return "faq:" + r.Citation.FAQID
	}
	return fmt.Sprintf("%s [%d:%d]", r.Citation.Origin, r.Citation.CharStart, r.Citation.CharEnd)
}
