package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// renderTable renders rows under headers in the rounded style shared by all
// list output. rightAligned names the 1-based columns holding numeric cells;
// headers always stay left-aligned.
func renderTable(headers table.Row, rows []table.Row, rightAligned ...int) string {
	if len(headers) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(headers)
	tw.AppendRows(rows)

	configs := make([]table.ColumnConfig, 0, len(rightAligned))
	for _, column := range rightAligned {
		configs = append(configs, table.ColumnConfig{
			Number:      column,
			Align:       text.AlignRight,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}
