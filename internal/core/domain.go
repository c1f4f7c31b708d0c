package core

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	AssignShared  Assignment = "shared"
	AssignMemberA Assignment = "user_1"
	AssignMemberB Assignment = "user_2"
)

const (
	MemberA UserCode = "user_1"
	MemberB UserCode = "user_2"
)

const (
	CategorySupermarket   Category = "supermarket"
	CategoryBills         Category = "bills"
	CategoryTaxes         Category = "taxes"
	CategoryEntertainment Category = "entertainment"
	CategoryOther         Category = "other"
)

type (
	// Assignment tags who is responsible for a line item.
	Assignment string

	// UserCode identifies one of the two household members on the wire.
	UserCode string

	Category string

	LineItem struct {
		Name       string              `json:"name"`
		Quantity   decimal.NullDecimal `json:"quantity"`
		UnitPrice  decimal.NullDecimal `json:"unit_price"`
		TotalPrice decimal.NullDecimal `json:"total_price"`
		AssignedTo Assignment          `json:"assigned_to,omitempty"`
	}

	Receipt struct {
		ID             int64               `json:"id"`
		UploadedBy     UserCode            `json:"uploaded_by"`
		UploadedByName string              `json:"uploaded_by_name"`
		ExpenseDate    string              `json:"expense_date"`
		Vendor         string              `json:"vendor"`
		Currency       string              `json:"currency"`
		Subtotal       decimal.NullDecimal `json:"subtotal"`
		Tax            decimal.NullDecimal `json:"tax"`
		Tip            decimal.NullDecimal `json:"tip"`
		Total          decimal.NullDecimal `json:"total"`
		Category       Category            `json:"category"`
		Items          []LineItem          `json:"items"`
		IsSaved        bool                `json:"is_saved"`
		UploadedAt     string              `json:"uploaded_at"`
	}

	// ItemAssignment is one positional entry of a save request.
	ItemAssignment struct {
		Index      int        `json:"index"`
		AssignedTo Assignment `json:"assigned_to"`
	}

	SaveRequest struct {
		ReceiptID   int64            `json:"-"`
		Assignments []ItemAssignment `json:"assignments"`
		Category    Category         `json:"category"`
	}

	ManualExpense struct {
		Vendor      string          `json:"vendor"`
		ExpenseDate string          `json:"expense_date,omitempty"`
		Currency    string          `json:"currency"`
		Total       decimal.Decimal `json:"total"`
		Category    Category        `json:"category"`
		Notes       string          `json:"notes"`
	}
)

var (
	ErrInvalidAssignment = errors.New("invalid assignment")
	ErrInvalidCategory   = errors.New("invalid category")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidCurrency   = errors.New("invalid currency")
)

// Categories lists every category in display order.
var Categories = []Category{
	CategorySupermarket,
	CategoryBills,
	CategoryTaxes,
	CategoryEntertainment,
	CategoryOther,
}

var categoryLabels = map[Category]string{
	CategorySupermarket:   "Supermarket",
	CategoryBills:         "Bills",
	CategoryTaxes:         "Taxes",
	CategoryEntertainment: "Entertainment",
	CategoryOther:         "Other",
}

func ParseAssignment(s string) (Assignment, error) {
	switch a := Assignment(strings.TrimSpace(s)); a {
	case AssignShared, AssignMemberA, AssignMemberB:
		return a, nil
	case "":
		return AssignShared, nil
	default:
		return "", ErrInvalidAssignment
	}
}

// OrShared returns the assignment, treating an unset tag as shared.
func (a Assignment) OrShared() Assignment {
	if a == "" {
		return AssignShared
	}
	return a
}

func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c == "" {
		return CategoryOther, nil
	}
	if _, ok := categoryLabels[c]; !ok {
		return "", ErrInvalidCategory
	}
	return c, nil
}

// Label is the human readable category name.
func (c Category) Label() string {
	if l, ok := categoryLabels[c]; ok {
		return l
	}
	return categoryLabels[CategoryOther]
}

// HasID reports whether the receipt was persisted by the backend.
func (r Receipt) HasID() bool {
	return r.ID > 0
}

// Clone returns a deep copy of the receipt. Decimal values are immutable
// and can be shared between copies.
func (r Receipt) Clone() Receipt {
	out := r
	if r.Items != nil {
		out.Items = make([]LineItem, len(r.Items))
		copy(out.Items, r.Items)
	}
	return out
}

func (m ManualExpense) Validate() error {
	if !m.Total.IsPositive() {
		return ErrInvalidAmount
	}
	if !IsSupportedCurrency(m.Currency) {
		return ErrInvalidCurrency
	}
	if _, err := ParseCategory(string(m.Category)); err != nil {
		return err
	}
	if len(m.Vendor) > 200 {
		return errors.New("vendor too long (max 200 characters)")
	}
	return nil
}
