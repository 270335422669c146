package parsers

import (
	"strings"

	"dmr/config"

	"github.com/PuerkitoBio/goquery"
)

// Column labels of a standard three-column report table.
const (
	ColDescription = "Description"
	ColToday       = "Today"
	ColThisMonth   = "This Month"
)

// HeaderStatus tells how ParseRows settled on the header row.
type HeaderStatus int

const (
	HeaderNotFound HeaderStatus = iota
	HeaderFound
	HeaderFallback
)

func (s HeaderStatus) String() string {
	switch s {
	case HeaderFound:
		return "found"
	case HeaderFallback:
		return "fallback"
	default:
		return "not_found"
	}
}

// fallbackHeaderIndex is the row used as header when no row carries the
// expected labels. Row 0 is the table title.
const fallbackHeaderIndex = 1

// TableParse is the result of ParseRows.
type TableParse struct {
	Status      HeaderStatus
	HeaderIndex int
	Header      []string
	Rows        []map[string]string
}

// LocateTable returns the first table, in document order, whose first row's
// first cell contains keyword (case-insensitive).
func LocateTable(doc *goquery.Document, keyword string) (*goquery.Selection, bool) {
	want := strings.ToLower(keyword)
	var found *goquery.Selection

	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		firstRow := tableRows(table).First()
		if firstRow.Length() == 0 {
			return true
		}
		firstCell := rowCells(firstRow).First()
		if firstCell.Length() == 0 {
			return true
		}
		if strings.Contains(strings.ToLower(cellText(firstCell)), want) {
			found = table
			return false
		}
		return true
	})

	return found, found != nil
}

// ParseRows maps every row after the header to {header_i: cell_i} for the
// three standard columns. When a header with the expected labels exists its
// keys are ColDescription, ColToday and ColThisMonth. Otherwise row 1 is used
// as header as-is; when that is not possible the result has no rows.
func ParseRows(table *goquery.Selection) TableParse {
	result := TableParse{Status: HeaderNotFound, HeaderIndex: -1}

	rows := tableRows(table)
	if rows.Length() < 2 {
		config.GetLogger().Warn("table has fewer than two rows, no header")
		return result
	}

	texts := make([][]string, rows.Length())
	rows.Each(func(i int, row *goquery.Selection) {
		rowCells(row).Each(func(_ int, cell *goquery.Selection) {
			texts[i] = append(texts[i], cellText(cell))
		})
	})

	for i, cells := range texts {
		if isStandardHeader(cells) {
			result.Status = HeaderFound
			result.HeaderIndex = i
			result.Header = []string{ColDescription, ColToday, ColThisMonth}
			break
		}
	}

	if result.Status == HeaderNotFound {
		if len(texts) > fallbackHeaderIndex+1 && len(texts[fallbackHeaderIndex]) == 3 {
			result.Status = HeaderFallback
			result.HeaderIndex = fallbackHeaderIndex
			result.Header = texts[fallbackHeaderIndex]
		} else {
			config.GetLogger().Warn("could not determine header row for table")
			return result
		}
	}

	for _, cells := range texts[result.HeaderIndex+1:] {
		if len(cells) < 3 {
			continue
		}
		result.Rows = append(result.Rows, map[string]string{
			result.Header[0]: cells[0],
			result.Header[1]: cells[1],
			result.Header[2]: cells[2],
		})
	}
	return result
}

func isStandardHeader(cells []string) bool {
	return len(cells) == 3 &&
		strings.Contains(cells[0], ColDescription) &&
		strings.Contains(cells[1], ColToday) &&
		strings.Contains(cells[2], ColThisMonth)
}

// tableRows returns the rows owned by table, skipping rows of nested tables.
func tableRows(table *goquery.Selection) *goquery.Selection {
	return table.Find("tr").FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.Closest("table").IsSelection(table)
	})
}

func rowCells(row *goquery.Selection) *goquery.Selection {
	return row.ChildrenFiltered("td, th")
}

// cellText trims the cell text and collapses inner whitespace, non-breaking
// spaces included, to single spaces.
func cellText(cell *goquery.Selection) string {
	return strings.Join(strings.Fields(cell.Text()), " ")
}
