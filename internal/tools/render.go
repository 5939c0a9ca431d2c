package tools

import (
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/quantumflow/finassist/internal/gold"
)

// renderRows lays out the selected rows as an aligned plain-text table
func renderRows(table *gold.Table, rows []int) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)

	w.Write([]byte(strings.Join(table.ColumnNames(), "\t") + "\n"))
	cells := make([]string, len(table.Columns))
	for _, r := range rows {
		for i, v := range table.Rows[r] {
			cells[i] = formatCell(v)
		}
		w.Write([]byte(strings.Join(cells, "\t") + "\n"))
	}
	w.Flush()

	return strings.TrimRight(b.String(), "\n")
}

func formatCell(v any) string {
	switch x := v.(type) {
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', 2, 64)
	case bool:
		if x {
			return "True"
		}
		return "False"
	case string:
		if x == "" {
			return "-"
		}
		return x
	default:
		return ""
	}
}
