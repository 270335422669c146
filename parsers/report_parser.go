package parsers

import (
	"strings"

	"dmr/config"
	"dmr/model"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// sectionExtractor turns one located report table into entries.
type sectionExtractor interface {
	extract(category string, table *goquery.Selection) []model.ExtractedEntry
}

// reportSections lists the sections pulled from every report, in the order
// they are searched.
var reportSections = []struct {
	category  string
	extractor sectionExtractor
}{
	{model.CategoryStockTrading, rowTableExtractor{}},
	{model.CategoryDispensary, rowTableExtractor{}},
	{model.CategoryTurnover, rowTableExtractor{}},
	{model.CategorySales, salesSummaryExtractor{labels: salesSummaryLabels}},
}

// ParseReportHTML parses a report email body and extracts its entries.
func ParseReportHTML(html string) []model.ExtractedEntry {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		config.GetLogger().WithError(err).Warn("could not parse report HTML")
		return nil
	}
	return ExtractReport(doc)
}

// ExtractReport applies each section extractor to its table. Missing sections
// are logged and skipped; the result may be empty but is never an error.
func ExtractReport(doc *goquery.Document) []model.ExtractedEntry {
	var entries []model.ExtractedEntry
	for _, section := range reportSections {
		table, ok := LocateTable(doc, section.category)
		if !ok {
			config.GetLogger().WithField("table", section.category).Warn("table not found in report")
			continue
		}
		entries = append(entries, section.extractor.extract(section.category, table)...)
	}
	return entries
}

// rowTableExtractor handles the standard Description/Today/This Month tables.
// Values stay raw; persistence normalizes them.
type rowTableExtractor struct{}

func (rowTableExtractor) extract(category string, table *goquery.Selection) []model.ExtractedEntry {
	parsed := ParseRows(table)
	if parsed.Status == HeaderFallback {
		config.GetLogger().WithField("table", category).Info("header labels not found, using second row as header")
	}

	var entries []model.ExtractedEntry
	for _, row := range parsed.Rows {
		desc := row[ColDescription]
		if desc == "" {
			continue
		}
		entries = append(entries, model.ExtractedEntry{
			Category:    category,
			Description: desc,
			RawValue:    row[ColToday],
		})
	}
	return entries
}

type salesLabel struct {
	match       string
	description string
	integer     bool
}

var salesSummaryLabels = []salesLabel{
	{match: "TOTAL POS TURNOVER:", description: model.POSTransactionsDesc, integer: true},
	{match: "Average Value Per Docket/Basket", description: model.AvgBasketValueDesc},
	{match: "Average Number Of Items per Basket", description: model.AvgItemsPerBasketDesc},
}

// salesSummaryExtractor picks a few named figures out of the free-form sales
// table. Each label is taken from the first row whose first cell contains it;
// the value is the second cell.
type salesSummaryExtractor struct {
	labels []salesLabel
}

func (e salesSummaryExtractor) extract(category string, table *goquery.Selection) []model.ExtractedEntry {
	found := make([]bool, len(e.labels))
	var entries []model.ExtractedEntry

	tableRows(table).Each(func(_ int, row *goquery.Selection) {
		cells := rowCells(row)
		if cells.Length() < 2 {
			return
		}
		first := cellText(cells.Eq(0))
		for i, label := range e.labels {
			if found[i] || !strings.Contains(first, label.match) {
				continue
			}
			raw := cellText(cells.Eq(1))
			entries = append(entries, model.ExtractedEntry{
				Category:    category,
				Description: label.description,
				RawValue:    raw,
				Value:       label.normalize(raw),
				Normalized:  true,
			})
			found[i] = true
		}
	})

	for i, label := range e.labels {
		if !found[i] {
			config.GetLogger().WithFields(logrus.Fields{
				"table": category,
				"label": label.match,
			}).Warn("row not found in sales summary")
		}
	}
	return entries
}

func (l salesLabel) normalize(raw string) decimal.NullDecimal {
	if !l.integer {
		return NormalizeDecimal(raw)
	}
	n, ok := NormalizeInteger(raw)
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromInt(n))
}
