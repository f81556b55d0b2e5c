package firestore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/iterator"

	pfirestore "github.com/daigou-ops/backoffice/internal/platform/firestore"
	"github.com/daigou-ops/backoffice/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the shared
// repositories.Registry interface so handlers and services stay free of
// persistence wiring.
type Registry struct {
	provider  *pfirestore.Provider
	products  *ProductRepository
	orders    *OrderRepository
	cashbook  *CashbookRepository
	eventLogs *EventLogRepository
	health    repositories.HealthRepository
}

func NewRegistry(provider *pfirestore.Provider) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	cashbook, err := NewCashbookRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	eventLogs, err := NewEventLogRepository(provider)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Check: firestorePing(provider)},
	})
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return &Registry{
		provider:  provider,
		products:  products,
		orders:    orders,
		cashbook:  cashbook,
		eventLogs: eventLogs,
		health:    health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Products() repositories.ProductRepository   { return r.products }
func (r *Registry) Orders() repositories.OrderRepository       { return r.orders }
func (r *Registry) Cashbook() repositories.CashbookRepository  { return r.cashbook }
func (r *Registry) EventLogs() repositories.EventLogRepository { return r.eventLogs }
func (r *Registry) Health() repositories.HealthRepository      { return r.health }

var _ repositories.Registry = (*Registry)(nil)

// firestorePing issues a one-document read to prove connectivity.
func firestorePing(provider *pfirestore.Provider) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collections(ctx)
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
