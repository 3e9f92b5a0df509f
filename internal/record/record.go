// Package record defines the entry types that flow from extraction to the sheet.
package record

import (
	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
)

// RawEntry is one activity entry as the automation collaborator saw it.
// Any field may be empty. Tags keep the order the source displayed them in.
type RawEntry struct {
	Name        string        `json:"name"`
	Link        string        `json:"link"`
	Tags        []string      `json:"tags"`
	Note        string        `json:"note"`
	Description string        `json:"description"`
	Date        calendar.Date `json:"date"`
}

// Field is one cell of a classified record.
type Field struct {
	Name   catalog.Field `json:"name"`
	Header string        `json:"header"`
	Column int           `json:"column"`
	Value  string        `json:"value"`
}

// Classified is a RawEntry routed to a table and laid out in that table's
// columns. Fields follow the table layout order.
type Classified struct {
	Table  catalog.TableID `json:"table"`
	Date   calendar.Date   `json:"date"`
	Fields []Field         `json:"fields"`
	Source RawEntry        `json:"source"`
}

// Value returns the value of the named field, or "" if the layout has no such column.
func (c Classified) Value(name catalog.Field) string {
	for _, f := range c.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// Row returns the cell values positioned by column, A first. Columns the
// layout skips are empty strings.
func (c Classified) Row() []string {
	width := 0
	for _, f := range c.Fields {
		if f.Column > width {
			width = f.Column
		}
	}
	row := make([]string, width)
	for _, f := range c.Fields {
		if f.Column > 0 {
			row[f.Column-1] = f.Value
		}
	}
	return row
}
