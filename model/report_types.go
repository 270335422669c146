package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Report section titles as they appear in the first cell of each table.
const (
	CategoryStockTrading = "STOCK TRADING ACCOUNT"
	CategorySales        = "SALES SUMMARY"
	CategoryTurnover     = "TURNOVER SUMMARY"
	CategoryDispensary   = "DISPENSARY SUMMARY"
)

// Line items the pipeline and the read views refer to by name.
const (
	ClosingStockDescription = "Closing Stock Valued at Cost Now"
	POSTransactionsDesc     = "POS Transactions"
	AvgBasketValueDesc      = "Average Value Per Docket/Basket"
	AvgItemsPerBasketDesc   = "Average Number Of Items per Basket"
	OpeningStockDescription = "Opening Stock (@ Cost at the Beginning of the Month)"
	CostOfSalesDesc         = "Cost Of Sales"
	PurchasesDesc           = "Purchases"
	AdjustmentsDesc         = "Adjustments"
	DispensaryTurnoverDesc  = "Dispensary Turnover/Revenue"
)

// ReportEntry is one stored fact. (date, category, description) is unique.
type ReportEntry struct {
	ID          int                 `db:"id" json:"-"`
	Date        string              `db:"date" json:"date"`
	Category    string              `db:"category" json:"category"`
	Description string              `db:"description" json:"description"`
	TodayValue  decimal.NullDecimal `db:"today_value" json:"today_value"`
}

type MonthlyClosingStock struct {
	ID           int             `db:"id" json:"-"`
	Month        string          `db:"month" json:"month"`
	ClosingStock decimal.Decimal `db:"closing_stock" json:"closing_stock"`
	SourceDate   string          `db:"source_date" json:"source_date"`
}

// ExtractedEntry is what the report parser hands to persistence. RawValue holds
// the cell text; when Normalized is set the parser already produced Value.
type ExtractedEntry struct {
	Category    string
	Description string
	RawValue    string
	Value       decimal.NullDecimal
	Normalized  bool
}

type MonthToDateAggregate struct {
	Category    string              `db:"category" json:"category"`
	Description string              `db:"description" json:"description"`
	SumValue    decimal.NullDecimal `db:"sum_value" json:"sum_value"`
}

type DailyTurnover struct {
	Day                    int             `json:"day"`
	Turnover               decimal.Decimal `json:"turnover"`
	AvgBasketValueReported decimal.Decimal `json:"avgBasketValueReported"`
}

// MonthAggregates sums a month's daily facts. The basket figures are the mean
// of the reported daily values.
type MonthAggregates struct {
	Turnover               decimal.Decimal `json:"turnover"`
	CostOfSales            decimal.Decimal `json:"costOfSales"`
	Purchases              decimal.Decimal `json:"purchases"`
	Transactions           decimal.Decimal `json:"transactions"`
	DispensaryTurnover     decimal.Decimal `json:"dispensaryTurnover"`
	AvgBasketValueReported decimal.Decimal `json:"avgBasketValueReported"`
	AvgBasketSizeReported  decimal.Decimal `json:"avgBasketSizeReported"`
	TotalScripts           decimal.Decimal `json:"totalScripts"`
}

// StockKPIs are the stock figures of one month. DSI is null when there were
// no cost of sales.
type StockKPIs struct {
	OpeningStock       decimal.Decimal     `json:"opening_stock"`
	ClosingStock       decimal.Decimal     `json:"closing_stock"`
	CostOfSales        decimal.Decimal     `json:"cost_of_sales"`
	Purchases          decimal.Decimal     `json:"purchases"`
	Adjustments        decimal.Decimal     `json:"adjustments"`
	StockTurnoverRatio decimal.Decimal     `json:"stock_turnover_ratio"`
	DSI                decimal.NullDecimal `json:"dsi"`
}

type DailyStockMovement struct {
	Day         int             `json:"day"`
	Purchases   decimal.Decimal `json:"purchases"`
	CostOfSales decimal.Decimal `json:"costOfSales"`
}

// MailMessage is a fetched report email. Body is the raw RFC 822 message;
// Date is the business date source (Date header, or INTERNALDATE for backfill).
type MailMessage struct {
	UID     uint32
	Date    time.Time
	Subject string
	Body    []byte
}
