package domain

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Address is a postal address used for customers and checkout shipping.
type Address struct {
	FirstName   string `json:"firstName,omitempty"`
	LastName    string `json:"lastName,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1" validate:"required"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city" validate:"required"`
	Province    string `json:"province,omitempty"`
	PostalCode  string `json:"postalCode"`
	CountryCode string `json:"countryCode" validate:"len=2,alpha"`
	Phone       string `json:"phone,omitempty"`
}

// Validate checks the fields required to ship to the address.
func (a Address) Validate() error {
	err := validate.Struct(a)
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return err
	}
	f := fields[0]
	if f.Tag() == "required" {
		return Invalid("shippingAddress."+f.Field(), "required")
	}
	return Invalid("shippingAddress."+f.Field(), "must be an ISO 3166-1 alpha-2 code")
}

// Customer is unique by email within a tenant.
type Customer struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"-"`
	ExternalID       string    `json:"externalId,omitempty"`
	Email            string    `json:"email"`
	PasswordHash     string    `json:"-"`
	FirstName        string    `json:"firstName,omitempty"`
	LastName         string    `json:"lastName,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	AcceptsMarketing bool      `json:"acceptsMarketing"`
	Addresses        []Address `json:"addresses,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// CustomerInput carries create/update fields. Nil pointers are left unchanged on update.
type CustomerInput struct {
	Email            *string   `json:"email,omitempty"`
	Password         *string   `json:"password,omitempty"`
	FirstName        *string   `json:"firstName,omitempty"`
	LastName         *string   `json:"lastName,omitempty"`
	Phone            *string   `json:"phone,omitempty"`
	AcceptsMarketing *bool     `json:"acceptsMarketing,omitempty"`
	Addresses        []Address `json:"addresses,omitempty"`
}
