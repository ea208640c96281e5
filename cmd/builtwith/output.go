package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	categoryColor = color.New(color.FgCyan, color.Bold)
	headerColor   = color.New(color.Bold)
	partialColor  = color.New(color.FgYellow)
	errorColor    = color.New(color.FgRed)
)

// writeText prints each report as "Category: [Tech, ...]" lines. A URL
// header is only printed when there is more than one report.
func writeText(out, errOut io.Writer, reports []*report) {
	multi := len(reports) > 1

	for i, rep := range reports {
		if rep.Result == nil {
			errorColor.Fprintf(errOut, "%s: %s\n", rep.input, rep.Error)
			continue
		}

		if multi {
			if i > 0 {
				fmt.Fprintln(out)
			}
			headerColor.Fprintln(out, rep.URL)
		}

		for _, category := range rep.Categories() {
			fmt.Fprintf(out, "%s: [%s]\n",
				categoryColor.Sprint(category),
				strings.Join(rep.Technologies[category], ", "))
		}

		if rep.Partial {
			partialColor.Fprintf(errOut, "%s: page could not be fetched, result is partial\n", rep.URL)
		}
		if rep.Error != "" {
			errorColor.Fprintf(errOut, "%s: %s\n", rep.URL, rep.Error)
		}
		if rep.Comparison != nil {
			writeComparison(out, rep)
		}
	}
}

func writeComparison(out io.Writer, rep *report) {
	cmp := rep.Comparison
	fmt.Fprintf(out, "Agreed: [%s]\n", strings.Join(cmp.Agreed, ", "))
	fmt.Fprintf(out, "Only builtwith: [%s]\n", strings.Join(cmp.OnlyBuiltwith, ", "))
	fmt.Fprintf(out, "Only wappalyzergo: [%s]\n", strings.Join(cmp.OnlyReference, ", "))
}

// writeJSON prints one object per line.
func writeJSON(out io.Writer, reports []*report) error {
	enc := json.NewEncoder(out)
	for _, rep := range reports {
		if rep.Result == nil {
			if err := enc.Encode(struct {
				URL   string `json:"url"`
				Error string `json:"error"`
			}{rep.input, rep.Error}); err != nil {
				return err
			}
			continue
		}
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("failed to encode result for %s: %w", rep.URL, err)
		}
	}
	return nil
}
