package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
)

// PortRow is one running function.
type PortRow struct {
	Function string
	Port     int
	URL      string
	Log      string
}

// PortRows builds rows from a function to host port map, sorted by function.
func PortRows(ports map[string]int, logPath func(function string) string) []PortRow {
	rows := make([]PortRow, 0, len(ports))
	for fn, port := range ports {
		row := PortRow{Function: fn, Port: port, URL: "http://localhost:" + strconv.Itoa(port)}
		if logPath != nil {
			row.Log = logPath(fn)
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Function < rows[j].Function })
	return rows
}

// RenderPortTable writes the function to port table followed by the key
// hints.
func RenderPortTable(w io.Writer, stackName string, rows []PortRow) {
	headers := []string{"FUNCTION", "PORT", "URL", "LOG"}
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	cells := make([][]string, 0, len(rows))
	for _, r := range rows {
		row := []string{r.Function, strconv.Itoa(r.Port), r.URL, r.Log}
		for i, cell := range row {
			if cw := runewidth.StringWidth(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
		cells = append(cells, row)
	}

	fmt.Fprintln(w, color.New(color.Bold).Sprintf("Stack %s is running", stackName))
	fmt.Fprintln(w, formatRow(headers, widths, color.New(color.FgHiBlack)))
	for _, row := range cells {
		fmt.Fprintln(w, formatRow(row, widths, nil))
	}
	fmt.Fprintf(w, "\nPress %s to rebuild and restart, %s to quit.\n",
		color.New(color.FgCyan, color.Bold).Sprint("r"),
		color.New(color.FgCyan, color.Bold).Sprint("q"))
}

func formatRow(cells []string, widths []int, c *color.Color) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		if i == len(cells)-1 {
			parts[i] = cell
			continue
		}
		parts[i] = runewidth.FillRight(cell, widths[i])
	}
	line := "  " + strings.TrimRight(strings.Join(parts, "  "), " ")
	if c != nil {
		return c.Sprint(line)
	}
	return line
}
