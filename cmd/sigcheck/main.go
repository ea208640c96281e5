// Command sigcheck lints a technology signature database.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/codinguncut/builtwith/internal/signatures"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:           "sigcheck [file]",
		Short:         "Lint a technology signature database",
		Long:          "sigcheck loads a signature database (the embedded one when no file is given) and reports dangling implications, invalid patterns and plain-text patterns.",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				store *signatures.Store
				err   error
			)
			if len(args) == 0 {
				store, err = signatures.Default()
			} else {
				store, err = signatures.LoadFile(args[0])
			}
			if err != nil {
				return err
			}

			issues := store.Lint()
			counts := report(out, store, issues)

			if strict && counts[signatures.IssuePlainPattern] < len(issues) {
				return fmt.Errorf("%d issues need fixing", len(issues)-counts[signatures.IssuePlainPattern])
			}
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 on dangling implications or invalid patterns")

	return cmd
}

// report prints each issue followed by a per-kind summary.
func report(out io.Writer, store *signatures.Store, issues []signatures.Issue) map[signatures.IssueKind]int {
	counts := make(map[signatures.IssueKind]int)
	for _, issue := range issues {
		counts[issue.Kind]++
		line := issue.String()
		if issue.Kind != signatures.IssuePlainPattern {
			line = color.YellowString(line)
		}
		fmt.Fprintln(out, line)
	}

	kinds := make([]string, 0, len(counts))
	for kind := range counts {
		kinds = append(kinds, string(kind))
	}
	sort.Strings(kinds)

	fmt.Fprintf(out, "%d technologies, %d categories, %d issues\n",
		store.Len(), len(store.Categories()), len(issues))
	for _, kind := range kinds {
		fmt.Fprintf(out, "  %s: %d\n", kind, counts[signatures.IssueKind(kind)])
	}

	return counts
}
