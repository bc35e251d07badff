package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"tabimport/internal/config"
	"tabimport/internal/decoder"
	"tabimport/internal/job"
	"tabimport/internal/logging"
	"tabimport/internal/model"
)

type analyzeOptions struct {
	format     string
	delimiter  string
	charset    string
	sampleRows int
	rename     map[string]string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Run type inference, statistics and integrity scoring on a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd, root, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.format, "format", "f", "markdown", "report format: markdown|json")
	f.StringVar(&opts.delimiter, "delimiter", "", "CSV delimiter: , ; tab | (default: sniffed)")
	f.StringVar(&opts.charset, "charset", "", "CSV charset, e.g. windows-1252 (default: detected)")
	f.IntVar(&opts.sampleRows, "sample-rows", 0, "rows classified for format consistency (default from config; -1 = all)")
	f.StringToStringVar(&opts.rename, "rename", nil, "rename header columns, e.g. --rename \"Old Name=new_name\"")
	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions, path string) error {
	format := strings.ToLower(opts.format)
	if format != "markdown" && format != "json" {
		return fmt.Errorf("unsupported --format: %s (use markdown|json)", opts.format)
	}
	kind, err := decoder.KindFromFilename(path)
	if err != nil {
		return err
	}
	cfg, err := config.Load(root.cfgFile)
	if err != nil {
		return err
	}

	decOpts := decoder.Options{
		Delimiter: cfg.Decoder.DelimiterRune(),
		Charset:   cfg.Decoder.Charset,
		Rename:    opts.rename,
	}
	if opts.delimiter != "" {
		r, err := parseDelimiter(opts.delimiter)
		if err != nil {
			return err
		}
		decOpts.Delimiter = r
	}
	if opts.charset != "" {
		decOpts.Charset = opts.charset
	}
	sampleRows := cfg.Job.PatternSampleRows
	if cmd.Flags().Changed("sample-rows") {
		sampleRows = opts.sampleRows
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return err
	}

	log := logging.Discard()
	if root.verbose {
		log = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	res, err := job.Analyze(cmd.Context(), kind, f, st.Size(), job.Options{
		BatchSize:         cfg.Job.BatchSize,
		PatternSampleRows: sampleRows,
		Decoder:           decOpts,
		Logger:            log,
	}, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return writeMarkdown(out, filepath.Base(path), res)
}

func parseDelimiter(s string) (rune, error) {
	switch s {
	case ",", ";", "|":
		return rune(s[0]), nil
	case "\t", "tab", "\\t":
		return '\t', nil
	}
	return 0, fmt.Errorf("unsupported --delimiter: %q", s)
}

func writeMarkdown(w io.Writer, name string, res *job.Result) error {
	m := res.Metrics
	var b strings.Builder
	fmt.Fprintf(&b, "# Import analysis: %s\n\n", name)
	fmt.Fprintf(&b, "- Rows: %d\n", res.RowCount)
	fmt.Fprintf(&b, "- Columns: %d\n", len(res.Columns))
	if res.Issues > 0 {
		fmt.Fprintf(&b, "- Skipped records: %d\n", res.Issues)
	}
	fmt.Fprintf(&b, "\n## Integrity\n\n| Overall | Completeness | Uniqueness | Consistency |\n|---|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", pct(m.Overall), pct(m.Completeness), pct(m.Uniqueness), pct(m.Consistency))

	b.WriteString("\n## Columns\n\n| # | Name | Type | Nulls | Duplicates | Distinct | Patterns |\n|---|---|---|---|---|---|---|\n")
	for i, c := range res.Columns {
		var s model.ColumnStatistics
		if i < len(res.Stats) {
			s = res.Stats[i]
		}
		fmt.Fprintf(&b, "| %d | %s | %s | %d | %d | %d | %s |\n",
			c.Index, mdEscape(c.Name), c.InferredType, s.NullCount, s.DuplicateCount, s.DistinctCount, patternSummary(s.Patterns))
	}

	b.WriteString("\n## Recommendations\n\n")
	if len(m.Recommendations) == 0 {
		b.WriteString("None.\n")
	}
	for _, r := range m.Recommendations {
		fmt.Fprintf(&b, "- **%s** (%s impact): %s\n", r.Type, r.Impact, r.Description)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func pct(v float64) string { return fmt.Sprintf("%.1f%%", v*100) }

func mdEscape(s string) string { return strings.ReplaceAll(s, "|", `\|`) }

// patternSummary renders the histogram most frequent first, e.g. "text 8, mixed 2".
func patternSummary(h map[model.PatternTag]int) string {
	type kv struct {
		tag model.PatternTag
		n   int
	}
	var all []kv
	for t, n := range h {
		if n > 0 {
			all = append(all, kv{t, n})
		}
	}
	if len(all) == 0 {
		return "-"
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].n != all[j].n {
			return all[i].n > all[j].n
		}
		return all[i].tag < all[j].tag
	})
	parts := make([]string, len(all))
	for i, e := range all {
		parts[i] = fmt.Sprintf("%s %d", e.tag, e.n)
	}
	return strings.Join(parts, ", ")
}
