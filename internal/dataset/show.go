package dataset

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"
)

const truncateWidth = 20

// Show writes up to n rows as an ASCII table. Cells longer than 20 characters
// are cut when truncate is set.
func (d *Dataset) Show(w io.Writer, n int, truncate bool) error {
	names := d.schema.Names()
	rows := d.Head(n)

	cells := make([][]string, 0, len(rows)+1)
	cells = append(cells, names)
	for _, row := range rows {
		line := make([]string, len(row))
		for i, v := range row {
			line[i] = formatCell(v, truncate)
		}
		cells = append(cells, line)
	}

	widths := make([]int, len(names))
	for _, line := range cells {
		for i, cell := range line {
			widths[i] = max(widths[i], 3, utf8.RuneCountInString(cell))
		}
	}

	var b strings.Builder
	sep := separator(widths)
	b.WriteString(sep)
	for i, line := range cells {
		b.WriteByte('|')
		for j, cell := range line {
			b.WriteString(pad(cell, widths[j], truncate))
			b.WriteByte('|')
		}
		b.WriteByte('\n')
		if i == 0 {
			b.WriteString(sep)
		}
	}
	b.WriteString(sep)
	if int64(n) < d.Count() {
		fmt.Fprintf(&b, "only showing top %d rows\n", n)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

func separator(widths []int) string {
	var b strings.Builder
	b.WriteByte('+')
	for _, w := range widths {
		b.WriteString(strings.Repeat("-", w))
		b.WriteByte('+')
	}
	b.WriteByte('\n')
	return b.String()
}

func pad(cell string, width int, right bool) string {
	gap := strings.Repeat(" ", width-utf8.RuneCountInString(cell))
	if right {
		return gap + cell
	}
	return cell + gap
}

func formatCell(v any, truncate bool) string {
	s := FormatValue(v)
	if truncate && utf8.RuneCountInString(s) > truncateWidth {
		runes := []rune(s)
		s = string(runes[:truncateWidth-3]) + "..."
	}
	return s
}

// FormatValue renders a value for previews.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case float64:
		return formatDouble(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case Vector:
		return x.String()
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func formatDouble(x float64) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "Infinity"
	case math.IsInf(x, -1):
		return "-Infinity"
	case x == math.Trunc(x) && math.Abs(x) < 1e7:
		return strconv.FormatFloat(x, 'f', 1, 64)
	default:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
}
