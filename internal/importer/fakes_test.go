package importer

import (
	"context"
	"slices"
	"strconv"
	"sync"
	"time"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
	"commerce-provider/internal/provider/providertest"
)

type memRuns struct {
	mu   sync.Mutex
	runs map[string]domain.MigrationRun
}

func newMemRuns() *memRuns { return &memRuns{runs: map[string]domain.MigrationRun{}} }

func (m *memRuns) Create(_ context.Context, run domain.MigrationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) Get(_ context.Context, id string) (*domain.MigrationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &run, nil
}

func (m *memRuns) Save(_ context.Context, run domain.MigrationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]domain.MigrationCheckpoint, len(run.Checkpoints))
	for k, v := range run.Checkpoints {
		cp[k] = v
	}
	run.Checkpoints = cp
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) Active(_ context.Context, tenantID string) (*domain.MigrationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.TenantID == tenantID && !run.State.Finished() {
			return &run, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memDestination struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	customers map[string]domain.Customer
	orders    map[string]domain.Order
	extra     map[provider.Entity]int
}

func newMemDestination() *memDestination {
	return &memDestination{
		products:  map[string]domain.Product{},
		customers: map[string]domain.Customer{},
		orders:    map[string]domain.Order{},
		extra:     map[provider.Entity]int{},
	}
}

func (d *memDestination) UpsertProduct(_ context.Context, p domain.Product) (*domain.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p.ID = "local-" + p.ExternalID
	d.products[p.ExternalID] = p
	return &p, nil
}

func (d *memDestination) UpsertCustomer(_ context.Context, c domain.Customer) (*domain.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c.ID = "local-" + c.ExternalID
	d.customers[c.ExternalID] = c
	return &c, nil
}

func (d *memDestination) UpsertOrder(_ context.Context, o domain.Order) (*domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	o.ID = "local-" + o.ExternalID
	d.orders[o.ExternalID] = o
	return &o, nil
}

func (d *memDestination) CustomerByExternalID(_ context.Context, externalID string) (*domain.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.customers[externalID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (d *memDestination) Count(_ context.Context, entity provider.Entity) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.extra[entity]
	switch entity {
	case provider.EntityProducts:
		n += len(d.products)
	case provider.EntityCustomers:
		n += len(d.customers)
	case provider.EntityOrders:
		n += len(d.orders)
	}
	return n, nil
}

func (d *memDestination) SampleProducts(_ context.Context, n int) ([]domain.Product, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Product
	for _, p := range d.products {
		if len(out) == n {
			break
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *memDestination) SampleCustomers(_ context.Context, n int) ([]domain.Customer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Customer
	for _, c := range d.customers {
		if len(out) == n {
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *memDestination) SampleOrders(_ context.Context, n int) ([]domain.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Order
	for _, o := range d.orders {
		if len(out) == n {
			break
		}
		out = append(out, o)
	}
	return out, nil
}

// source is a managed catalog served through the provider stub.
type source struct {
	products  []domain.Product
	customers []domain.Customer
	orders    []domain.Order
	// updated is returned for listings with UpdatedSince set.
	updated []domain.Product

	mu sync.Mutex
	// block makes product listings wait for cancellation after the first page.
	block bool
	// fail is returned by product listings after the first page.
	fail    error
	cursors []string
}

func (s *source) setBlock(b bool) {
	s.mu.Lock()
	s.block = b
	s.mu.Unlock()
}

func (s *source) setFail(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *source) productCursors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cursors)
}

func paginate[T any](items []T, opts provider.ListOptions) domain.Page[T] {
	start, _ := strconv.Atoi(opts.Cursor)
	limit := opts.PageLimit(100, 100)
	end := min(start+limit, len(items))
	page := domain.Page[T]{Items: items[start:end]}
	if end < len(items) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page
}

func (s *source) stub() *providertest.Stub {
	return &providertest.Stub{
		Tenant: "acme",
		ListProductsFn: func(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Product], error) {
			s.mu.Lock()
			s.cursors = append(s.cursors, opts.Cursor)
			block, fail := s.block, s.fail
			s.mu.Unlock()
			if opts.UpdatedSince != nil {
				return paginate(s.updated, opts), nil
			}
			if opts.Cursor != "" {
				if fail != nil {
					return domain.Page[domain.Product]{}, fail
				}
				if block {
					<-ctx.Done()
					return domain.Page[domain.Product]{}, ctx.Err()
				}
			}
			return paginate(s.products, opts), nil
		},
		ListCustomersFn: func(_ context.Context, opts provider.ListOptions) (domain.Page[domain.Customer], error) {
			if opts.UpdatedSince != nil {
				return domain.Page[domain.Customer]{}, nil
			}
			return paginate(s.customers, opts), nil
		},
		ListOrdersFn: func(_ context.Context, opts provider.ListOptions) (domain.Page[domain.Order], error) {
			if opts.UpdatedSince != nil {
				return domain.Page[domain.Order]{}, nil
			}
			return paginate(s.orders, opts), nil
		},
		CountFn: func(_ context.Context, entity provider.Entity) (int, error) {
			switch entity {
			case provider.EntityProducts:
				return len(s.products), nil
			case provider.EntityCustomers:
				return len(s.customers), nil
			}
			return len(s.orders), nil
		},
		GetProductFn: func(_ context.Context, id string) (*domain.Product, error) {
			for _, p := range s.products {
				if p.ID == id {
					return &p, nil
				}
			}
			return nil, domain.ErrNotFound
		},
		GetCustomerFn: func(_ context.Context, id string) (*domain.Customer, error) {
			for _, c := range s.customers {
				if c.ID == id {
					return &c, nil
				}
			}
			return nil, domain.ErrNotFound
		},
		GetOrderFn: func(_ context.Context, id string) (*domain.Order, error) {
			for _, o := range s.orders {
				if o.ID == id {
					return &o, nil
				}
			}
			return nil, domain.ErrNotFound
		},
	}
}

type fixedEndpoints struct {
	src provider.Provider
	dst Destination
}

func (f fixedEndpoints) Open(context.Context, string) (provider.Provider, Destination, func(), error) {
	return f.src, f.dst, func() {}, nil
}

type recordingCutover struct {
	mu    sync.Mutex
	kinds map[string]string
}

func (c *recordingCutover) SetOverride(_ context.Context, tenantID, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = map[string]string{}
	}
	c.kinds[tenantID] = kind
	return nil
}

func (c *recordingCutover) kind(tenantID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[tenantID]
}

type memArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memArchive) Put(_ context.Context, key string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return nil
}

func product(id, sku string, cents int64) domain.Product {
	return domain.Product{
		ID:     id,
		Handle: "handle-" + id,
		Title:  "Product " + id,
		Status: domain.ProductActive,
		Variants: []domain.Variant{
			{ID: "v" + id, ProductID: id, SKU: sku, Title: "Default", Price: domain.NewMoney(cents, "USD")},
		},
	}
}

func sampleSource() *source {
	cust := "c1"
	return &source{
		products: []domain.Product{product("1", "SKU-1", 1000), product("2", "SKU-2", 1500), product("3", "SKU-3", 2000)},
		customers: []domain.Customer{
			{ID: "c1", Email: "ada@example.com", FirstName: "Ada"},
			{ID: "c2", Email: "bob@example.com", FirstName: "Bob"},
		},
		orders: []domain.Order{{
			ID:              "o1",
			Number:          "#1001",
			CustomerID:      &cust,
			Currency:        "USD",
			FinancialStatus: domain.FinancialPaid,
			Lines: []domain.OrderLine{{
				ID: "ol1", ProductID: "1", VariantID: "v1", SKU: "SKU-1", Title: "Product 1", Quantity: 1,
				UnitPrice: domain.NewMoney(1000, "USD"), Total: domain.NewMoney(1000, "USD"),
			}},
			Totals: domain.Totals{Total: domain.NewMoney(1000, "USD")},
		}},
	}
}

func newRun(tenantID string) *domain.MigrationRun {
	return &domain.MigrationRun{
		ID:        "run-1",
		TenantID:  tenantID,
		Phase:     domain.PhaseProducts,
		State:     domain.MigrationRunning,
		StartedAt: time.Now().UTC(),
	}
}
