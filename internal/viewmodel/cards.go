package viewmodel

import (
	"time"

	"github.com/shopspring/decimal"

	"splithappens/internal/core"
)

var hundred = decimal.NewFromInt(100)

type MemberAmount struct {
	Name   string
	Amount string
}

type MonthCard struct {
	Title        string
	Label        string
	Range        string
	MemberOne    MemberAmount
	MemberTwo    MemberAmount
	Combined     string
	ReceiptCount int
}

func BuildMonthCard(title string, m core.MonthSummary, members core.MemberNames, currency string) MonthCard {
	return MonthCard{
		Title:        title,
		Label:        m.MonthLabel,
		Range:        core.FormatDate(m.StartDate) + " - " + core.FormatDate(m.EndDate),
		MemberOne:    MemberAmount{Name: members.User1, Amount: core.FormatAmount(m.Totals.User1, currency)},
		MemberTwo:    MemberAmount{Name: members.User2, Amount: core.FormatAmount(m.Totals.User2, currency)},
		Combined:     core.FormatAmount(m.Totals.Combined, currency),
		ReceiptCount: m.ReceiptCount,
	}
}

// Bar is one column of a chart. Height is a percentage of the tallest
// column; Segments split the bar by share of its own total.
type Bar struct {
	Key      string
	Label    string
	Class    string
	Amount   string
	Height   int
	Segments []Segment
}

type Segment struct {
	Class string
	Share int
}

// barHeight scales value against top. Positive values never drop below
// floor so they stay visible; empty columns get a stub.
func barHeight(value, top decimal.Decimal, floor int64) int {
	if !value.IsPositive() {
		return 4
	}
	if !top.IsPositive() {
		top = decimal.NewFromInt(1)
	}
	h := value.Div(top).Mul(hundred)
	if h.LessThan(decimal.NewFromInt(floor)) {
		return int(floor)
	}
	return int(h.Round(0).IntPart())
}

func share(part, whole decimal.Decimal) int {
	if !whole.IsPositive() {
		return 0
	}
	return int(part.Div(whole).Mul(hundred).Round(0).IntPart())
}

func maxOf(values ...decimal.Decimal) decimal.Decimal {
	m := decimal.NewFromInt(1)
	for _, v := range values {
		if v.GreaterThan(m) {
			m = v
		}
	}
	return m
}

func categoryClass(c core.Category) string {
	return "category-" + string(c)
}

// CategoryBars renders one bar per category scaled against top.
func CategoryBars(totals core.CategoryTotals, top decimal.Decimal, currency string) []Bar {
	bars := make([]Bar, 0, len(core.Categories))
	for _, c := range core.Categories {
		v := totals.Get(c)
		bars = append(bars, Bar{
			Key:    string(c),
			Label:  c.Label(),
			Class:  categoryClass(c),
			Amount: core.FormatAmount(v, currency),
			Height: barHeight(v, top, 8),
		})
	}
	return bars
}

// MonthTick renders a month start date as its short month name.
func MonthTick(startDate string) string {
	t, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return startDate
	}
	return t.Format("Jan")
}

type ExpensesPage struct {
	HouseholdName   string
	UpdatedThrough  string
	Members         core.MemberNames
	CurrentMonth    MonthCard
	LastMonth       MonthCard
	Trend           []Bar
	CurrentCategory []Bar
	LastCategory    []Bar
	CategoryTrend   []Bar
	Legend          []Bar
}

// BuildExpensesPage lays out the overview charts. Amounts come straight
// from the server; only bar proportions are derived here.
func BuildExpensesPage(ov core.ExpensesOverview, currency string) ExpensesPage {
	members := ResolveMembers(nil, &ov.Members)
	page := ExpensesPage{
		HouseholdName:  ov.HouseholdName,
		UpdatedThrough: core.FormatDate(ov.CurrentDate),
		Members:        members,
		CurrentMonth:   BuildMonthCard("Current month", ov.CurrentMonth, members, currency),
		LastMonth:      BuildMonthCard("Last month", ov.LastMonth, members, currency),
	}

	trendValues := make([]decimal.Decimal, 0, len(ov.SixMonthTrend))
	for _, m := range ov.SixMonthTrend {
		trendValues = append(trendValues, m.Totals.Combined)
	}
	trendMax := maxOf(trendValues...)
	for _, m := range ov.SixMonthTrend {
		page.Trend = append(page.Trend, Bar{
			Key:    m.StartDate,
			Label:  MonthTick(m.StartDate),
			Amount: core.FormatAmount(m.Totals.Combined, currency),
			Height: barHeight(m.Totals.Combined, trendMax, 10),
			Segments: []Segment{
				{Class: "user-1", Share: share(m.Totals.User1, m.Totals.Combined)},
				{Class: "user-2", Share: share(m.Totals.User2, m.Totals.Combined)},
			},
		})
	}

	var catValues []decimal.Decimal
	for _, c := range core.Categories {
		catValues = append(catValues, ov.CurrentMonthCategories.Get(c), ov.LastMonthCategories.Get(c))
	}
	catMax := maxOf(catValues...)
	page.CurrentCategory = CategoryBars(ov.CurrentMonthCategories, catMax, currency)
	page.LastCategory = CategoryBars(ov.LastMonthCategories, catMax, currency)

	combined := make([]decimal.Decimal, 0, len(ov.SixMonthCategoryTrend))
	for _, e := range ov.SixMonthCategoryTrend {
		combined = append(combined, e.Categories.Combined)
	}
	catTrendMax := maxOf(combined...)
	for _, e := range ov.SixMonthCategoryTrend {
		bar := Bar{
			Key:    e.StartDate,
			Label:  MonthTick(e.StartDate),
			Amount: core.FormatAmount(e.Categories.Combined, currency),
			Height: barHeight(e.Categories.Combined, catTrendMax, 10),
		}
		for _, c := range core.Categories {
			bar.Segments = append(bar.Segments, Segment{
				Class: categoryClass(c),
				Share: share(e.Categories.Get(c), e.Categories.Combined),
			})
		}
		page.CategoryTrend = append(page.CategoryTrend, bar)
	}

	for _, c := range core.Categories {
		page.Legend = append(page.Legend, Bar{Key: string(c), Label: c.Label(), Class: categoryClass(c)})
	}
	return page
}

type SettlementCard struct {
	Message string
	Amount  string
	Payer   string
	Payee   string
	Owed    bool
}

func BuildSettlementCard(s core.Settlement, currency string) SettlementCard {
	return SettlementCard{
		Message: s.Message,
		Amount:  core.FormatAmount(s.Amount, currency),
		Payer:   s.PayerName,
		Payee:   s.PayeeName,
		Owed:    s.Amount.IsPositive(),
	}
}

type ReceiptRow struct {
	ID         int64
	Vendor     string
	Date       string
	Total      string
	Category   string
	UploadedBy string
	Saved      bool
	ItemCount  int
}

func BuildReceiptRows(receipts []core.Receipt, currency string) []ReceiptRow {
	rows := make([]ReceiptRow, 0, len(receipts))
	for _, r := range receipts {
		cur := r.Currency
		if cur == "" {
			cur = currency
		}
		vendor := r.Vendor
		if vendor == "" {
			vendor = "Unknown vendor"
		}
		rows = append(rows, ReceiptRow{
			ID:         r.ID,
			Vendor:     vendor,
			Date:       core.FormatDate(r.ExpenseDate),
			Total:      core.FormatMoney(r.Total, cur),
			Category:   r.Category.Label(),
			UploadedBy: r.UploadedByName,
			Saved:      r.IsSaved,
			ItemCount:  len(r.Items),
		})
	}
	return rows
}

type DraftItem struct {
	Index      int
	Name       string
	Quantity   string
	UnitPrice  string
	TotalPrice string
	AssignedTo core.Assignment
}

type DraftCard struct {
	ID        int64
	Vendor    string
	Date      string
	Currency  string
	Subtotal  string
	Tax       string
	Tip       string
	Total     string
	Category  core.Category
	IsSaved   bool
	Saving    bool
	Items     []DraftItem
	SaveLabel string
}

// BuildDraftCard renders a draft in its own currency.
func BuildDraftCard(r core.Receipt, saving bool) DraftCard {
	cur := r.Currency
	if cur == "" {
		cur = core.DefaultCurrency
	}
	card := DraftCard{
		ID:       r.ID,
		Vendor:   r.Vendor,
		Date:     core.FormatDate(r.ExpenseDate),
		Currency: cur,
		Subtotal: core.FormatMoney(r.Subtotal, cur),
		Tax:      core.FormatMoney(r.Tax, cur),
		Tip:      core.FormatMoney(r.Tip, cur),
		Total:    core.FormatMoney(r.Total, cur),
		Category: r.Category,
		IsSaved:  r.IsSaved,
		Saving:   saving,
	}
	if card.Category == "" {
		card.Category = core.CategoryOther
	}
	switch {
	case saving:
		card.SaveLabel = "Saving..."
	case r.IsSaved:
		card.SaveLabel = "Update split"
	default:
		card.SaveLabel = "Save split"
	}
	for i, item := range r.Items {
		qty := "-"
		if item.Quantity.Valid {
			qty = item.Quantity.Decimal.String()
		}
		card.Items = append(card.Items, DraftItem{
			Index:      i,
			Name:       item.Name,
			Quantity:   qty,
			UnitPrice:  core.FormatMoney(item.UnitPrice, cur),
			TotalPrice: core.FormatMoney(item.TotalPrice, cur),
			AssignedTo: item.AssignedTo.OrShared(),
		})
	}
	return card
}
