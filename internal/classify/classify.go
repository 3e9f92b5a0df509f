// Package classify routes raw entries to destination tables and lays out
// their fields. Classification never fails: anything it cannot resolve
// becomes an empty string.
package classify

import (
	"net/url"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/bclparser/internal/calendar"
	"github.com/MikeSquared-Agency/bclparser/internal/catalog"
	"github.com/MikeSquared-Agency/bclparser/internal/record"
)

var monthNames = [...]string{
	"Січень", "Лютий", "Березень", "Квітень", "Травень", "Червень",
	"Липень", "Серпень", "Вересень", "Жовтень", "Листопад", "Грудень",
}

// MonthName returns the Ukrainian name of d's month, or "" for the zero date.
func MonthName(d calendar.Date) string {
	if d.IsZero() || d.Month < 1 || d.Month > 12 {
		return ""
	}
	return monthNames[d.Month-1]
}

type Classifier struct {
	catchAll catalog.TableID
	routes   []catalog.Route
	tables   map[catalog.TableID]catalog.Table
	tags     map[catalog.TableID]map[string]string
}

// New builds a classifier from a validated catalog.
func New(cat catalog.Catalog) *Classifier {
	routes := make([]catalog.Route, len(cat.Routes))
	for i, r := range cat.Routes {
		r.Suffix = normaliseHost(r.Suffix)
		routes[i] = r
	}
	// Longest suffix wins, so jobs.dou.ua beats dou.ua.
	sort.SliceStable(routes, func(i, j int) bool {
		return len(routes[i].Suffix) > len(routes[j].Suffix)
	})

	c := &Classifier{
		catchAll: cat.CatchAll,
		routes:   routes,
		tables:   make(map[catalog.TableID]catalog.Table, len(cat.Tables)),
		tags:     make(map[catalog.TableID]map[string]string, len(cat.Tables)),
	}
	for _, t := range cat.Tables {
		c.tables[t.ID] = t
		known := make(map[string]string, len(t.Tags))
		for _, tag := range t.Tags {
			key := foldTag(tag)
			if _, dup := known[key]; !dup {
				known[key] = strings.TrimSpace(tag)
			}
		}
		c.tags[t.ID] = known
	}
	return c
}

// Route returns the destination table for link and the platform label of
// the matching rule. Unparseable or unknown links go to the catch-all table.
func (c *Classifier) Route(link string) (catalog.TableID, string) {
	host := hostOf(link)
	if host == "" {
		return c.catchAll, ""
	}
	for _, r := range c.routes {
		if host == r.Suffix || strings.HasSuffix(host, "."+r.Suffix) {
			return r.Table, r.Label
		}
	}
	return c.catchAll, ""
}

// SelectTag returns the first candidate that is a known tag of table, in
// its configured spelling, or "" if none matches.
func (c *Classifier) SelectTag(table catalog.TableID, candidates []string) string {
	known := c.tags[table]
	for _, cand := range candidates {
		if tag, ok := known[foldTag(cand)]; ok {
			return tag
		}
	}
	return ""
}

// Classify maps e onto its destination table's layout.
func (c *Classifier) Classify(e record.RawEntry) record.Classified {
	table, label := c.Route(e.Link)
	layout := c.tables[table]

	out := record.Classified{
		Table:  table,
		Date:   e.Date,
		Fields: make([]record.Field, 0, len(layout.Columns)),
		Source: e,
	}
	for _, col := range layout.Columns {
		out.Fields = append(out.Fields, record.Field{
			Name:   col.Field,
			Header: col.Header,
			Column: col.Position(),
			Value:  c.value(col.Field, e, table, label),
		})
	}
	return out
}

func (c *Classifier) value(f catalog.Field, e record.RawEntry, table catalog.TableID, label string) string {
	switch f {
	case catalog.FieldMonth:
		return MonthName(e.Date)
	case catalog.FieldName:
		return strings.TrimSpace(e.Name)
	case catalog.FieldDescription:
		return strings.TrimSpace(e.Description)
	case catalog.FieldTag:
		return c.SelectTag(table, e.Tags)
	case catalog.FieldNetwork:
		return label
	case catalog.FieldLink:
		return strings.TrimSpace(e.Link)
	case catalog.FieldNote:
		return strings.TrimSpace(e.Note)
	}
	return ""
}

func hostOf(link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	if !strings.Contains(link, "://") {
		link = "https://" + link
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	return normaliseHost(u.Hostname())
}

func normaliseHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.TrimSuffix(h, ".")
	return strings.TrimPrefix(h, "www.")
}

func foldTag(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
