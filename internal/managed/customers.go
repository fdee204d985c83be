package managed

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"commerce-provider/internal/domain"
)

type customerEnvelope struct {
	Customer restCustomer `json:"customer"`
}

type customersEnvelope struct {
	Customers []restCustomer `json:"customers"`
}

func (a *Adapter) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var out customerEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "get customer", "/customers/"+fromGID(id)+".json", nil, &out); err != nil {
		return nil, err
	}
	return a.customer(out.Customer), nil
}

func (a *Adapter) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, domain.Invalid("email", "required")
	}
	var out customersEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "get customer by email", "/customers/search.json", nil, &out, func(r *resty.Request) {
		r.SetQueryParam("query", "email:"+email)
	}); err != nil {
		return nil, err
	}
	// search is fuzzy; only an exact match counts.
	for _, c := range out.Customers {
		if strings.EqualFold(c.Email, email) {
			return a.customer(c), nil
		}
	}
	return nil, fmt.Errorf("customer %s: %w", email, domain.ErrNotFound)
}

func (a *Adapter) CreateCustomer(ctx context.Context, in domain.CustomerInput) (*domain.Customer, error) {
	if in.Email == nil || strings.TrimSpace(*in.Email) == "" {
		return nil, domain.Invalid("email", "required")
	}
	body, err := customerBody(in)
	if err != nil {
		return nil, err
	}
	var out customerEnvelope
	resp, err := a.rest(ctx, resty.MethodPost, "create customer", "/customers.json", map[string]any{"customer": body}, &out)
	if err != nil {
		if resp != nil && resp.StatusCode() == 422 && strings.Contains(resp.String(), "has already been taken") {
			return nil, fmt.Errorf("customer %s: %w", *in.Email, domain.ErrAlreadyExists)
		}
		return nil, err
	}
	return a.customer(out.Customer), nil
}

func (a *Adapter) UpdateCustomer(ctx context.Context, id string, in domain.CustomerInput) (*domain.Customer, error) {
	body, err := customerBody(in)
	if err != nil {
		return nil, err
	}
	body["id"] = fromGID(id)
	var out customerEnvelope
	if _, err := a.rest(ctx, resty.MethodPut, "update customer", "/customers/"+fromGID(id)+".json", map[string]any{"customer": body}, &out); err != nil {
		return nil, err
	}
	return a.customer(out.Customer), nil
}

func (a *Adapter) ListCustomers(ctx context.Context, opts domain.ListOptions) (domain.Page[domain.Customer], error) {
	limit := opts.PageLimit(defaultPageSize, maxPageSize)
	params := pageParams(opts, limit)
	var out customersEnvelope
	if _, err := a.rest(ctx, resty.MethodGet, "list customers", "/customers.json", nil, &out, func(r *resty.Request) {
		r.SetQueryParams(params)
	}); err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	page := domain.Page[domain.Customer]{Items: make([]domain.Customer, 0, len(out.Customers))}
	for _, c := range out.Customers {
		page.Items = append(page.Items, *a.customer(c))
	}
	if len(page.Items) == limit {
		page.NextCursor = page.Items[len(page.Items)-1].ID
	}
	return page, nil
}

func (a *Adapter) customer(c restCustomer) *domain.Customer {
	out := toCustomer(c)
	out.TenantID = a.cfg.TenantID
	return &out
}

// customerBody sends only the fields set in in.
func customerBody(in domain.CustomerInput) (map[string]any, error) {
	body := map[string]any{}
	if in.Email != nil {
		body["email"] = strings.ToLower(strings.TrimSpace(*in.Email))
	}
	if in.Password != nil {
		body["password"] = *in.Password
		body["password_confirmation"] = *in.Password
	}
	if in.FirstName != nil {
		body["first_name"] = *in.FirstName
	}
	if in.LastName != nil {
		body["last_name"] = *in.LastName
	}
	if in.Phone != nil {
		body["phone"] = *in.Phone
	}
	if in.AcceptsMarketing != nil {
		body["accepts_marketing"] = *in.AcceptsMarketing
	}
	if in.Addresses != nil {
		addrs := make([]restAddress, 0, len(in.Addresses))
		for i, addr := range in.Addresses {
			if err := addr.Validate(); err != nil {
				return nil, fmt.Errorf("addresses[%d]: %w", i, err)
			}
			addrs = append(addrs, fromAddress(addr))
		}
		body["addresses"] = addrs
	}
	return body, nil
}
