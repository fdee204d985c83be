package selfhosted

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const minPasswordLength = 8

func (a *Adapter) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	return a.customers.GetByID(ctx, a.cfg.TenantID, id)
}

func (a *Adapter) GetCustomerByEmail(ctx context.Context, email string) (*domain.Customer, error) {
	return a.customers.GetByEmail(ctx, a.cfg.TenantID, strings.TrimSpace(email))
}

func (a *Adapter) ListCustomers(ctx context.Context, opts provider.ListOptions) (domain.Page[domain.Customer], error) {
	opts.Limit = opts.PageLimit(defaultPageSize, maxPageSize)
	return a.customers.List(ctx, a.cfg.TenantID, opts)
}

// CreateCustomer registers a customer. A password is optional; when given
// it is stored as a bcrypt hash.
func (a *Adapter) CreateCustomer(ctx context.Context, in domain.CustomerInput) (*domain.Customer, error) {
	if in.Email == nil {
		return nil, domain.Invalid("email", "required")
	}
	c := domain.Customer{TenantID: a.cfg.TenantID}
	if err := applyCustomerInput(&c, in); err != nil {
		return nil, err
	}
	return a.customers.Create(ctx, c)
}

func (a *Adapter) UpdateCustomer(ctx context.Context, id string, in domain.CustomerInput) (*domain.Customer, error) {
	c, err := a.customers.GetByID(ctx, a.cfg.TenantID, id)
	if err != nil {
		return nil, err
	}
	if err := applyCustomerInput(c, in); err != nil {
		return nil, err
	}
	return a.customers.Update(ctx, *c)
}

func applyCustomerInput(c *domain.Customer, in domain.CustomerInput) error {
	if in.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*in.Email))
		if err := domain.ValidateEmail(email); err != nil {
			return err
		}
		c.Email = email
	}
	if in.Password != nil {
		password := strings.TrimSpace(*in.Password)
		if err := validatePassword(password); err != nil {
			return err
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		c.PasswordHash = string(hashed)
	}
	if in.FirstName != nil {
		c.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		c.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		c.Phone = strings.TrimSpace(*in.Phone)
	}
	if in.AcceptsMarketing != nil {
		c.AcceptsMarketing = *in.AcceptsMarketing
	}
	if in.Addresses != nil {
		for i, addr := range in.Addresses {
			if err := addr.Validate(); err != nil {
				return domain.Invalid(fmt.Sprintf("addresses[%d]", i), err.Error())
			}
		}
		c.Addresses = in.Addresses
	}
	return nil
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength {
		return domain.Invalid("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	var hasUpper, hasLower, hasDigit bool
	for _, r := range p {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return domain.Invalid("password", "must contain an uppercase letter, a lowercase letter and a number")
	}
	return nil
}
