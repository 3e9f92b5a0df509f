// Package catalog holds the destination tables and the rules that route,
// tag and lay out records for them. A Catalog is built once at startup and
// treated as immutable afterwards.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
)

// TableID identifies a destination table.
type TableID string

const (
	SocialNetworks TableID = "SocialNetworks"
	Media          TableID = "Media"
	Vacancies      TableID = "Vacancies"
)

// Field names a normalised record field that a layout can place in a column.
type Field string

const (
	FieldMonth       Field = "month"
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldTag         Field = "tag"
	FieldNetwork     Field = "network"
	FieldLink        Field = "link"
	FieldNote        Field = "note"
)

var knownFields = map[Field]bool{
	FieldMonth: true, FieldName: true, FieldDescription: true, FieldTag: true,
	FieldNetwork: true, FieldLink: true, FieldNote: true,
}

// Column places one field at a sheet column given as a letter ("A", "AB").
type Column struct {
	Field  Field  `yaml:"field" json:"field"`
	Header string `yaml:"header" json:"header"`
	Letter string `yaml:"column" json:"column"`
}

// Position returns the 1-based column index, or 0 if the letter is invalid.
func (c Column) Position() int {
	return ColumnIndex(c.Letter)
}

// Table is one destination tab.
type Table struct {
	ID         TableID  `yaml:"id" json:"id"`
	Sheet      string   `yaml:"sheet" json:"sheet"`
	HeaderRows int      `yaml:"header_rows" json:"header_rows"`
	Tags       []string `yaml:"tags" json:"tags"`
	Columns    []Column `yaml:"columns" json:"columns"`
}

// SheetName resolves the tab name for a record dated d. A "{YEAR}"
// placeholder is replaced with d's year.
func (t Table) SheetName(d calendar.Date) string {
	if !strings.Contains(t.Sheet, "{YEAR}") {
		return t.Sheet
	}
	return strings.ReplaceAll(t.Sheet, "{YEAR}", fmt.Sprintf("%d", d.Year))
}

// Width is the right-most column position used by the layout.
func (t Table) Width() int {
	w := 0
	for _, c := range t.Columns {
		if p := c.Position(); p > w {
			w = p
		}
	}
	return w
}

// Route sends links whose host equals Suffix or ends with "."+Suffix to Table.
// Label is the platform name written to the network column.
type Route struct {
	Suffix string  `yaml:"suffix" json:"suffix"`
	Table  TableID `yaml:"table" json:"table"`
	Label  string  `yaml:"label,omitempty" json:"label,omitempty"`
}

type Catalog struct {
	CatchAll TableID `yaml:"catch_all" json:"catch_all"`
	Routes   []Route `yaml:"routes" json:"routes"`
	Tables   []Table `yaml:"tables" json:"tables"`
}

// Table looks up a table by ID.
func (c Catalog) Table(id TableID) (Table, bool) {
	for _, t := range c.Tables {
		if t.ID == id {
			return t, true
		}
	}
	return Table{}, false
}

// Validate checks the catalog is internally consistent.
func (c Catalog) Validate() error {
	if len(c.Tables) == 0 {
		return fmt.Errorf("catalog has no tables")
	}
	seen := make(map[TableID]bool)
	for _, t := range c.Tables {
		if t.ID == "" {
			return fmt.Errorf("table with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate table %q", t.ID)
		}
		seen[t.ID] = true
		if t.Sheet == "" {
			return fmt.Errorf("table %q: empty sheet name", t.ID)
		}
		if t.HeaderRows < 0 {
			return fmt.Errorf("table %q: negative header_rows", t.ID)
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q: no columns", t.ID)
		}
		positions := make(map[int]bool)
		for _, col := range t.Columns {
			if !knownFields[col.Field] {
				return fmt.Errorf("table %q: unknown field %q", t.ID, col.Field)
			}
			p := col.Position()
			if p == 0 {
				return fmt.Errorf("table %q: invalid column %q", t.ID, col.Letter)
			}
			if positions[p] {
				return fmt.Errorf("table %q: column %s used twice", t.ID, col.Letter)
			}
			positions[p] = true
		}
	}
	if !seen[c.CatchAll] {
		return fmt.Errorf("catch-all table %q is not defined", c.CatchAll)
	}
	for _, r := range c.Routes {
		if r.Suffix == "" {
			return fmt.Errorf("route with empty suffix")
		}
		if !seen[r.Table] {
			return fmt.Errorf("route %q: unknown table %q", r.Suffix, r.Table)
		}
	}
	return nil
}

// LoadFile reads a YAML catalog and validates it.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, fmt.Errorf("validate catalog: %w", err)
	}
	return c, nil
}

// ColumnIndex converts a column letter to its 1-based index.
func ColumnIndex(letter string) int {
	letter = strings.ToUpper(strings.TrimSpace(letter))
	if letter == "" {
		return 0
	}
	n := 0
	for _, r := range letter {
		if r < 'A' || r > 'Z' {
			return 0
		}
		n = n*26 + int(r-'A'+1)
	}
	return n
}

// ColumnLetter converts a 1-based index to its column letter.
func ColumnLetter(n int) string {
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}
