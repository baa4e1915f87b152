package resolver

import (
	"context"

	"crm-import-service/internal/models"
	"crm-import-service/internal/store"
)

// CustomerResolver looks customers up by case-insensitive name, caching both
// hits and misses for the rest of the run.
type CustomerResolver struct {
	store store.Store
	cache map[string]*models.Customer
}

func NewCustomerResolver(s store.Store) *CustomerResolver {
	return &CustomerResolver{store: s, cache: make(map[string]*models.Customer)}
}

// Resolve returns the customer named name, or nil when none exists.
func (r *CustomerResolver) Resolve(ctx context.Context, name string) (*models.Customer, error) {
	if customer, ok := r.cache[name]; ok {
		return customer, nil
	}
	customer, err := r.store.FindCustomerByNameFold(ctx, name)
	if err != nil {
		return nil, err
	}
	r.cache[name] = customer
	return customer, nil
}

// FindOrCreate returns the customer with exactly this name, creating it when
// missing. Creation is skipped in dry run and a placeholder with id 0 is
// returned instead.
func (r *CustomerResolver) FindOrCreate(ctx context.Context, name string, dryRun bool) (*models.Customer, bool, error) {
	customer, err := r.store.FindCustomerByName(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if customer != nil {
		return customer, false, nil
	}

	customer = &models.Customer{Name: name}
	if dryRun {
		return customer, true, nil
	}
	if err := r.store.CreateCustomer(ctx, customer); err != nil {
		return nil, false, err
	}
	return customer, true, nil
}
