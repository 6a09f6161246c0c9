package internal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/zenplay/zpkg/formula"
	"github.com/zenplay/zpkg/internal/build"
)

var infoCmd = &cobra.Command{
	Use:   "info [dir]",
	Short: "Show the resolved dependency graph and options",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	res, err := s.builder.Run(cmd.Context(), build.Request{Dir: descriptorDir(args), Upto: formula.StageResolve})
	if err != nil {
		return err
	}
	return printInfo(cmd.OutOrStdout(), res)
}

func printInfo(w io.Writer, res *build.Result) error {
	d := res.Descriptor
	fmt.Fprintf(w, "%s %s\n", styled(w, titleStyle, d.Ref().String()), styled(w, mutedStyle, "("+string(d.Type)+")"))
	fmt.Fprintf(w, "package id: %s\n", res.PackageID)
	if !d.CachePolicy.IncludesDependencies() {
		fmt.Fprintln(w, styled(w, warningStyle, "cache policy: ignore-dependencies (package may be stale after dependency changes)"))
	}

	rows := [][]string{{d.Name, d.Version, "root", res.Options.Root.String()}}
	for _, n := range res.Resolution.Nodes {
		kind := "transitive"
		switch {
		case n.Test:
			kind = "test"
		case n.Direct:
			kind = "direct"
		}
		opts, _ := res.Options.Of(n.Ref.Path)
		rows = append(rows, []string{n.Ref.Path, n.Ref.Version, kind, opts.String()})
	}
	_, err := fmt.Fprintln(w, renderTable(w, []string{"Package", "Version", "Kind", "Options"}, rows))
	if err != nil {
		return err
	}

	for _, n := range res.Resolution.Nodes {
		var cs []string
		for _, c := range n.Constraints {
			cs = append(cs, fmt.Sprintf("%s (%s)", c.Constraint, c.Origin))
		}
		fmt.Fprintf(w, "%s: %s\n", n.Ref.Path, strings.Join(cs, ", "))
	}
	return nil
}

func renderTable(w io.Writer, headers []string, rows [][]string) string {
	tw := table.NewWriter()
	if isTerminal(w) {
		tw.SetStyle(table.StyleRounded)
	} else {
		tw.SetStyle(table.StyleLight)
		tw.Style().Options.DrawBorder = false
	}

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
