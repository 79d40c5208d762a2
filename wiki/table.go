package wiki

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"fileglancer/fsp"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var ErrNoTable = errors.New("no file share path table found")

// column order of the wiki table
const (
	colZone = iota
	colStorage
	colMac
	colWindows
	colLinux
	colGroup
	numColumns
)

// ParseTable reads the first table of an HTML document into rows. Header rows
// are skipped, row and column spans are expanded and empty cells take the
// value of the cell above.
func ParseTable(r io.Reader) ([]fsp.Row, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	table := findFirst(doc, atom.Table)
	if table == nil {
		return nil, ErrNoTable
	}

	grid := expandSpans(collectRows(table))
	var (
		out  []fsp.Row
		last = make([]string, numColumns)
	)
	for _, cells := range grid {
		vals := make([]string, numColumns)
		for i := range vals {
			if i < len(cells) && cells[i] != "" {
				vals[i] = cells[i]
			} else {
				vals[i] = last[i]
			}
		}
		copy(last, vals)
		if vals[colLinux] == "" {
			continue
		}
		out = append(out, fsp.Row{
			Zone:        vals[colZone],
			Storage:     vals[colStorage],
			MacPath:     vals[colMac],
			WindowsPath: vals[colWindows],
			LinuxPath:   vals[colLinux],
			Group:       vals[colGroup],
		})
	}
	return out, nil
}

type cell struct {
	text    string
	rowspan int
	colspan int
}

// collectRows returns the data rows of table in document order, without
// descending into nested tables.
func collectRows(table *html.Node) [][]cell {
	var rows [][]cell
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				// nested
			case atom.Tr:
				if row, header := readRow(c); !header {
					rows = append(rows, row)
				}
			default:
				walk(c)
			}
		}
	}
	walk(table)
	return rows
}

// readRow reports header=true for rows made only of th cells.
func readRow(tr *html.Node) (row []cell, header bool) {
	header = true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if c.DataAtom == atom.Td {
			header = false
		}
		row = append(row, cell{
			text:    textOf(c),
			rowspan: spanAttr(c, "rowspan"),
			colspan: spanAttr(c, "colspan"),
		})
	}
	return row, header || len(row) == 0
}

// expandSpans lays cells out on a grid, repeating spanned values.
func expandSpans(rows [][]cell) [][]string {
	type carry struct {
		text string
		left int
	}
	pending := map[int]*carry{}
	grid := make([][]string, 0, len(rows))
	for _, row := range rows {
		var line []string
		col := 0
		fill := func() {
			for {
				p, ok := pending[col]
				if !ok || p.left == 0 {
					return
				}
				line = append(line, p.text)
				p.left--
				col++
			}
		}
		for _, c := range row {
			fill()
			for range c.colspan {
				line = append(line, c.text)
				if c.rowspan > 1 {
					pending[col] = &carry{text: c.text, left: c.rowspan - 1}
				} else {
					delete(pending, col)
				}
				col++
			}
		}
		fill()
		grid = append(grid, line)
	}
	return grid
}

func spanAttr(n *html.Node, name string) int {
	for _, a := range n.Attr {
		if a.Key == name {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 {
				return v
			}
		}
	}
	return 1
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch {
		case n.Type == html.TextNode:
			b.WriteString(n.Data)
		case n.Type == html.ElementNode && n.DataAtom == atom.Br:
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func findFirst(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, a); found != nil {
			return found
		}
	}
	return nil
}
