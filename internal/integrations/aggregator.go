package integrations

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"orderhub/internal/model"
)

// AggregateResult merges orders from every platform. A platform that failed
// contributes an entry in Errors instead of orders.
type AggregateResult struct {
	Orders []model.UnifiedOrder `json:"orders"`
	Errors map[string]string    `json:"errors,omitempty"`
}

// Aggregator queries all registered adapters concurrently so one platform's
// outage never blocks the others.
type Aggregator struct {
	Registry *Registry
	Log      logrus.FieldLogger
}

func NewAggregator(r *Registry, log logrus.FieldLogger) *Aggregator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Aggregator{Registry: r, Log: log}
}

func (a *Aggregator) FetchAll(ctx context.Context, filters model.OrderFilters) AggregateResult {
	adapters := a.Registry.All()
	type result struct {
		name   string
		orders []model.UnifiedOrder
		err    error
	}
	results := make(chan result, len(adapters))
	var wg sync.WaitGroup
	for _, ad := range adapters {
		wg.Add(1)
		go func(ad PlatformAdapter) {
			defer wg.Done()
			orders, err := ad.FetchOrders(ctx, filters)
			results <- result{name: ad.Name(), orders: orders, err: err}
		}(ad)
	}
	wg.Wait()
	close(results)

	out := AggregateResult{Orders: []model.UnifiedOrder{}}
	for r := range results {
		if r.err != nil {
			a.Log.WithField("platform", r.name).WithError(r.err).Warn("fetch orders failed")
			if out.Errors == nil {
				out.Errors = map[string]string{}
			}
			out.Errors[r.name] = r.err.Error()
			continue
		}
		out.Orders = append(out.Orders, r.orders...)
	}
	sort.SliceStable(out.Orders, func(i, j int) bool {
		if out.Orders[i].CreatedAt.Equal(out.Orders[j].CreatedAt) {
			return out.Orders[i].ID < out.Orders[j].ID
		}
		return out.Orders[i].CreatedAt.After(out.Orders[j].CreatedAt)
	})
	return out
}

// HealthCheckAll returns one status per registered platform, sorted by name.
func (a *Aggregator) HealthCheckAll(ctx context.Context) []model.HealthStatus {
	adapters := a.Registry.All()
	out := make([]model.HealthStatus, len(adapters))
	var wg sync.WaitGroup
	for i, ad := range adapters {
		wg.Add(1)
		go func(i int, ad PlatformAdapter) {
			defer wg.Done()
			out[i] = ad.HealthCheck(ctx)
		}(i, ad)
	}
	wg.Wait()
	return out
}
