// Package resolver maps free-text account and customer names from QuickBooks
// exports onto CRM primary keys.
package resolver

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/schollz/closestmatch"

	"crm-import-service/internal/models"
	"crm-import-service/internal/store"
)

var (
	trailingParenthetical = regexp.MustCompile(`\s*\([^)]*\)$`)
	whitespaceRun         = regexp.MustCompile(`\s+`)
)

// NormalizeAccountKey produces the lookup key for an account name:
// trim, drop one trailing "(...)" group, collapse whitespace, lower-case.
func NormalizeAccountKey(name string) string {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return ""
	}
	clean = trailingParenthetical.ReplaceAllString(clean, "")
	clean = whitespaceRun.ReplaceAllString(clean, " ")
	return strings.ToLower(clean)
}

// Unresolved is a name with no matching account, plus the nearest known
// account name when one could be suggested.
type Unresolved struct {
	Name       string
	Suggestion string
}

// AccountResolver resolves account names against a cache loaded once per run.
type AccountResolver struct {
	ids     map[string]int
	names   map[string]string
	missing []string
	matcher *closestmatch.ClosestMatch
}

// NewAccountResolver builds a resolver from a full list of accounts. When two
// accounts normalize to the same key the later one wins.
func NewAccountResolver(accounts []models.ChartOfAccount) *AccountResolver {
	r := &AccountResolver{
		ids:   make(map[string]int, len(accounts)),
		names: make(map[string]string, len(accounts)),
	}
	for _, account := range accounts {
		key := NormalizeAccountKey(account.AccountName)
		if key == "" {
			continue
		}
		r.ids[key] = account.ID
		r.names[key] = account.AccountName
	}
	return r
}

// LoadAccountResolver scans the chart of accounts through s.
func LoadAccountResolver(ctx context.Context, s store.Store) (*AccountResolver, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	return NewAccountResolver(accounts), nil
}

// Resolve returns the account id for rawName. Blank names resolve to nothing
// without being recorded; other misses are collected for reporting.
func (r *AccountResolver) Resolve(rawName string) (int, bool) {
	key := NormalizeAccountKey(rawName)
	if key == "" {
		return 0, false
	}
	if id, ok := r.ids[key]; ok {
		return id, true
	}
	r.missing = append(r.missing, rawName)
	return 0, false
}

// Len reports the number of cached account keys.
func (r *AccountResolver) Len() int {
	return len(r.ids)
}

// Unresolved lists distinct unresolved names in sorted order, each with the
// closest known account name if any.
func (r *AccountResolver) Unresolved() []Unresolved {
	if len(r.missing) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(r.missing))
	var names []string
	for _, name := range r.missing {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]Unresolved, len(names))
	for i, name := range names {
		out[i] = Unresolved{Name: name, Suggestion: r.suggest(name)}
	}
	return out
}

func (r *AccountResolver) suggest(name string) string {
	if len(r.ids) == 0 {
		return ""
	}
	if r.matcher == nil {
		keys := make([]string, 0, len(r.ids))
		for key := range r.ids {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		r.matcher = closestmatch.New(keys, []int{2, 3})
	}
	key := r.matcher.Closest(NormalizeAccountKey(name))
	return r.names[key]
}
