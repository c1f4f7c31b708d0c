package core

import "github.com/shopspring/decimal"

type (
	MemberNames struct {
		User1 string `json:"user_1"`
		User2 string `json:"user_2"`
	}

	MonthTotals struct {
		User1    decimal.Decimal `json:"user_1"`
		User2    decimal.Decimal `json:"user_2"`
		Combined decimal.Decimal `json:"combined"`
	}

	MonthSummary struct {
		MonthLabel   string      `json:"month_label"`
		StartDate    string      `json:"start_date"`
		EndDate      string      `json:"end_date"`
		Totals       MonthTotals `json:"totals"`
		ReceiptCount int         `json:"receipt_count"`
	}

	// Settlement is the server's statement of who owes whom.
	Settlement struct {
		Payer     UserCode        `json:"payer"`
		PayerName string          `json:"payer_name"`
		Payee     UserCode        `json:"payee"`
		PayeeName string          `json:"payee_name"`
		Amount    decimal.Decimal `json:"amount"`
		Message   string          `json:"message"`
	}

	Notification struct {
		User    UserCode `json:"user"`
		Message string   `json:"message"`
		Read    bool     `json:"read"`
	}

	DashboardSnapshot struct {
		HouseholdCode   string         `json:"household_code"`
		HouseholdName   string         `json:"household_name"`
		CurrentUser     UserCode       `json:"current_user"`
		CurrentUserName string         `json:"current_user_name"`
		Members         MemberNames    `json:"members"`
		CurrentDate     string         `json:"current_date"`
		CurrentMonth    MonthSummary   `json:"current_month"`
		LastMonth       MonthSummary   `json:"last_month"`
		Settlement      Settlement     `json:"settlement"`
		Notifications   []Notification `json:"notifications"`
		RecentReceipts  []Receipt      `json:"recent_receipts"`
	}

	CategoryTotals struct {
		Supermarket   decimal.Decimal `json:"supermarket"`
		Bills         decimal.Decimal `json:"bills"`
		Taxes         decimal.Decimal `json:"taxes"`
		Entertainment decimal.Decimal `json:"entertainment"`
		Other         decimal.Decimal `json:"other"`
		Combined      decimal.Decimal `json:"combined"`
	}

	CategoryTrendEntry struct {
		MonthLabel string         `json:"month_label"`
		StartDate  string         `json:"start_date"`
		EndDate    string         `json:"end_date"`
		Categories CategoryTotals `json:"categories"`
	}

	ExpensesOverview struct {
		HouseholdCode          string               `json:"household_code"`
		HouseholdName          string               `json:"household_name"`
		CurrentDate            string               `json:"current_date"`
		Members                MemberNames          `json:"members"`
		CurrentMonth           MonthSummary         `json:"current_month"`
		LastMonth              MonthSummary         `json:"last_month"`
		SixMonthTrend          []MonthSummary       `json:"six_month_trend"`
		CurrentMonthCategories CategoryTotals       `json:"current_month_categories"`
		LastMonthCategories    CategoryTotals       `json:"last_month_categories"`
		SixMonthCategoryTrend  []CategoryTrendEntry `json:"six_month_category_trend"`
	}

	SettleResult struct {
		Detail        string         `json:"detail"`
		Settlement    Settlement     `json:"settlement"`
		Notifications []Notification `json:"notifications"`
	}
)

// Get returns the amount recorded for a category.
func (c CategoryTotals) Get(cat Category) decimal.Decimal {
	switch cat {
	case CategorySupermarket:
		return c.Supermarket
	case CategoryBills:
		return c.Bills
	case CategoryTaxes:
		return c.Taxes
	case CategoryEntertainment:
		return c.Entertainment
	default:
		return c.Other
	}
}

// Name returns the display name of a member code, or "" when unknown.
func (m MemberNames) Name(code UserCode) string {
	switch code {
	case MemberA:
		return m.User1
	case MemberB:
		return m.User2
	}
	return ""
}

func (m MemberNames) IsZero() bool {
	return m.User1 == "" && m.User2 == ""
}
