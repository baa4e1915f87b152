// Package ledger rebuilds QuickBooks journal entries and account balances.
//
// The journal pass streams a journal report through a Grouper, a two-state
// machine that turns flat rows into transaction groups. Each closed group is
// collapsed per account, checked for balance and written as one journal
// entry. The balance pass walks a general-ledger report positionally and
// copies each account's closing total into the chart of accounts.
package ledger

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"crm-import-service/internal/parsers"
)

// State is the grouping state.
type State int

const (
	NoGroup State = iota
	InGroup
)

func (s State) String() string {
	if s == InGroup {
		return "in-group"
	}
	return "no-group"
}

// JournalRow is the part of a journal report row the grouper reads.
type JournalRow struct {
	TransNumber string
	HasTrans    bool
	Type        string
	Num         string
	Date        string
	Account     string
	Name        string
	Memo        string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// IsDelimiter reports whether the row carries no account and no amount.
func (r JournalRow) IsDelimiter() bool {
	return r.Account == "" && r.Debit.IsZero() && r.Credit.IsZero()
}

// Line is one posting inside a group.
type Line struct {
	AccountID int
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// Group is one transaction being assembled.
type Group struct {
	Reference   string
	Date        time.Time
	Description string
	Memo        string
	Lines       []Line
}

// Grouper assigns journal rows to groups. A row with a transaction number
// closes the open group and opens a new one; rows before the first boundary
// are dropped.
type Grouper struct {
	state   State
	current *Group

	// Resolve maps an account name to its id.
	Resolve func(name string) (int, bool)
	// Now supplies the date of groups whose date cannot be parsed.
	Now func() time.Time
	// Token supplies the random part of a reference when no field can be used.
	Token func() string
}

// NewGrouper returns a grouper in the NoGroup state.
func NewGrouper(resolve func(string) (int, bool)) *Grouper {
	return &Grouper{
		state:   NoGroup,
		Resolve: resolve,
		Now:     time.Now,
		Token:   func() string { return uuid.NewString() },
	}
}

// State returns the current state.
func (g *Grouper) State() State {
	return g.state
}

// Observe consumes one row. When the row starts a new transaction the
// previously open group is returned.
func (g *Grouper) Observe(row JournalRow) *Group {
	var closed *Group
	if row.HasTrans {
		closed = g.Flush()
		g.open(row)
	}

	if row.IsDelimiter() || g.state == NoGroup {
		return closed
	}

	accountID, ok := g.Resolve(row.Account)
	if !ok {
		return closed
	}
	g.current.Lines = append(g.current.Lines, Line{AccountID: accountID, Debit: row.Debit, Credit: row.Credit})
	return closed
}

// Flush closes the open group, if any, and returns it.
func (g *Grouper) Flush() *Group {
	closed := g.current
	g.current = nil
	g.state = NoGroup
	return closed
}

func (g *Grouper) open(row JournalRow) {
	date, ok := parsers.ParseDate(row.Date)
	if !ok {
		date = g.Now()
	}
	g.current = &Group{
		Reference:   BuildReference(row.TransNumber, row.Type, row.Num, row.Date, g.Token),
		Date:        date,
		Description: joinNonEmpty(row.Type, row.Num),
		Memo:        joinNonEmpty(row.Name, row.Memo),
	}
	g.state = InGroup
}

// BuildReference derives a stable entry number. The transaction number is
// preferred, then the type, number and date slugs, then a random token.
func BuildReference(trans, typ, num, date string, token func() string) string {
	if slug := parsers.Slug(trans); slug != "" {
		return "QB-" + slug
	}

	var parts []string
	for _, field := range []string{typ, num, date} {
		if slug := parsers.Slug(field); slug != "" {
			parts = append(parts, slug)
		}
	}
	if len(parts) > 0 {
		return "QB-" + strings.Join(parts, "-")
	}
	return "QB-" + token()
}

func joinNonEmpty(a, b string) string {
	return strings.TrimSpace(strings.TrimSpace(a) + " " + strings.TrimSpace(b))
}

// Collapse drops lines with neither a positive debit nor a positive credit
// and merges lines against the same account, keeping first-seen order.
// Merged amounts are rounded to cents.
func Collapse(lines []Line) []Line {
	index := make(map[int]int)
	var out []Line
	for _, line := range lines {
		if !line.Debit.IsPositive() && !line.Credit.IsPositive() {
			continue
		}
		if i, ok := index[line.AccountID]; ok {
			out[i].Debit = out[i].Debit.Add(line.Debit)
			out[i].Credit = out[i].Credit.Add(line.Credit)
			continue
		}
		index[line.AccountID] = len(out)
		out = append(out, line)
	}
	for i := range out {
		out[i].Debit = out[i].Debit.Round(2)
		out[i].Credit = out[i].Credit.Round(2)
	}
	return out
}

// Totals sums debits and credits, rounded to cents.
func Totals(lines []Line) (decimal.Decimal, decimal.Decimal) {
	debits, credits := decimal.Zero, decimal.Zero
	for _, line := range lines {
		debits = debits.Add(line.Debit)
		credits = credits.Add(line.Credit)
	}
	return debits.Round(2), credits.Round(2)
}

var balanceTolerance = decimal.RequireFromString("0.01")

// Balanced reports whether debits and credits agree within one cent.
func Balanced(debits, credits decimal.Decimal) bool {
	return debits.Sub(credits).Abs().LessThanOrEqual(balanceTolerance)
}
