package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/k0ekk0ek/cdds/internal/align"
	"github.com/k0ekk0ek/cdds/internal/layout"
	"github.com/k0ekk0ek/cdds/internal/observ"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	uncertainColor = color.New(color.FgYellow)
)

var tableHeader = []string{"TYPE", "CLASS", "ALIGN", "EXPRESSION"}

// renderPretty prints one row per result. Uncertain alignments show "?" in
// the ALIGN column and are flagged after the expression.
func renderPretty(w io.Writer, results []layout.Result, useColor bool) error {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		lit := "?"
		if r.Export.HasLiteral {
			lit = strconv.FormatUint(uint64(r.Export.Literal), 10)
		}
		rows = append(rows, []string{r.Name, r.Class.String(), lit, r.Export.Expr})
	}

	widths := make([]int, len(tableHeader))
	for i, h := range tableHeader {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	header := formatRow(tableHeader, widths)
	if useColor {
		header = headerStyle.Render(header)
	}
	if _, err := fmt.Fprintln(w, header); err != nil {
		return err
	}
	for i, row := range rows {
		line := formatRow(row, widths)
		if results[i].Export.Uncertain {
			marker := "(uncertain)"
			if useColor {
				marker = uncertainColor.Sprint(marker)
			}
			line += "  " + marker
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	for i, cell := range cells {
		if i == len(cells)-1 {
			sb.WriteString(cell)
			break
		}
		sb.WriteString(runewidth.FillRight(cell, widths[i]))
		sb.WriteString("  ")
	}
	return strings.TrimRight(sb.String(), " ")
}

type jsonResult struct {
	Type      string      `json:"type"`
	ID        uint32      `json:"id"`
	Class     align.Class `json:"class"`
	Align     *uint32     `json:"align"`
	Expr      string      `json:"expr"`
	Uncertain bool        `json:"uncertain"`
}

type jsonOutput struct {
	File    string         `json:"file"`
	Types   []jsonResult   `json:"types"`
	Timings *observ.Report `json:"timings,omitempty"`
}

func renderJSON(w io.Writer, file string, results []layout.Result, timings *observ.Report) error {
	out := jsonOutput{File: file, Types: make([]jsonResult, 0, len(results)), Timings: timings}
	for _, r := range results {
		jr := jsonResult{
			Type:      r.Name,
			ID:        uint32(r.ID),
			Class:     r.Class,
			Expr:      r.Export.Expr,
			Uncertain: r.Export.Uncertain,
		}
		if r.Export.HasLiteral {
			lit := r.Export.Literal
			jr.Align = &lit
		}
		out.Types = append(out.Types, jr)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
