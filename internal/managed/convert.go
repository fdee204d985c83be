package managed

import (
	"strconv"
	"strings"
	"time"

	"commerce-provider/internal/domain"
)

// Admin REST payloads.

type restVariant struct {
	ID                int64   `json:"id"`
	ProductID         int64   `json:"product_id"`
	Title             string  `json:"title"`
	SKU               string  `json:"sku"`
	Price             string  `json:"price"`
	CompareAtPrice    *string `json:"compare_at_price"`
	InventoryQuantity int     `json:"inventory_quantity"`
	Position          int     `json:"position"`
}

type restProduct struct {
	ID        int64         `json:"id"`
	Title     string        `json:"title"`
	BodyHTML  string        `json:"body_html"`
	Vendor    string        `json:"vendor"`
	Handle    string        `json:"handle"`
	Status    string        `json:"status"`
	Tags      string        `json:"tags"`
	Variants  []restVariant `json:"variants"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type restAddress struct {
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Company     string `json:"company,omitempty"`
	Address1    string `json:"address1,omitempty"`
	Address2    string `json:"address2,omitempty"`
	City        string `json:"city,omitempty"`
	Province    string `json:"province,omitempty"`
	Zip         string `json:"zip,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type restCustomer struct {
	ID               int64         `json:"id"`
	Email            string        `json:"email"`
	FirstName        string        `json:"first_name"`
	LastName         string        `json:"last_name"`
	Phone            string        `json:"phone"`
	AcceptsMarketing bool          `json:"accepts_marketing"`
	Addresses        []restAddress `json:"addresses"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type restLineItem struct {
	ID            int64  `json:"id"`
	ProductID     *int64 `json:"product_id"`
	VariantID     *int64 `json:"variant_id"`
	SKU           string `json:"sku"`
	Title         string `json:"title"`
	VariantTitle  string `json:"variant_title"`
	Quantity      int    `json:"quantity"`
	Price         string `json:"price"`
	TotalDiscount string `json:"total_discount"`
}

type restPriceSet struct {
	ShopMoney struct {
		Amount       string `json:"amount"`
		CurrencyCode string `json:"currency_code"`
	} `json:"shop_money"`
}

type restTransaction struct {
	ID       int64  `json:"id"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Gateway  string `json:"gateway"`
}

type restRefund struct {
	ID           int64             `json:"id"`
	OrderID      int64             `json:"order_id"`
	Note         string            `json:"note"`
	Transactions []restTransaction `json:"transactions"`
	CreatedAt    time.Time         `json:"created_at"`
}

type restOrder struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	Email              string         `json:"email"`
	Currency           string         `json:"currency"`
	Customer           *restCustomer  `json:"customer"`
	LineItems          []restLineItem `json:"line_items"`
	ShippingAddress    *restAddress   `json:"shipping_address"`
	SubtotalPrice      string         `json:"subtotal_price"`
	TotalDiscounts     string         `json:"total_discounts"`
	TotalShippingSet   restPriceSet   `json:"total_shipping_price_set"`
	TotalTax           string         `json:"total_tax"`
	TotalPrice         string         `json:"total_price"`
	FinancialStatus    string         `json:"financial_status"`
	FulfillmentStatus  *string        `json:"fulfillment_status"`
	Refunds            []restRefund   `json:"refunds"`
	CancelledAt        *time.Time     `json:"cancelled_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func id64(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

// money parses a decimal string; malformed or empty values are zero.
func money(amount, currency string) domain.Money {
	if amount == "" {
		return domain.Zero(currency)
	}
	m, err := domain.ParseMoney(amount, currency)
	if err != nil {
		return domain.Zero(currency)
	}
	return m
}

func toProduct(p restProduct, currency string) domain.Product {
	out := domain.Product{
		ID:          id64(p.ID),
		ExternalID:  id64(p.ID),
		Handle:      p.Handle,
		Title:       p.Title,
		Description: p.BodyHTML,
		Vendor:      p.Vendor,
		Status:      domain.ProductStatus(p.Status),
		Tags:        splitTags(p.Tags),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if out.Status == "" {
		out.Status = domain.ProductActive
	}
	for _, v := range p.Variants {
		dv := domain.Variant{
			ID:                id64(v.ID),
			ProductID:         out.ID,
			ExternalID:        id64(v.ID),
			SKU:               v.SKU,
			Title:             v.Title,
			Price:             money(v.Price, currency),
			InventoryQuantity: v.InventoryQuantity,
			Position:          v.Position,
		}
		if v.CompareAtPrice != nil && *v.CompareAtPrice != "" {
			compare := money(*v.CompareAtPrice, currency)
			dv.CompareAtPrice = &compare
		}
		out.Variants = append(out.Variants, dv)
	}
	return out
}

func splitTags(tags string) []string {
	var out []string
	for _, t := range strings.Split(tags, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func toAddress(a restAddress) domain.Address {
	return domain.Address{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Company:     a.Company,
		Address1:    a.Address1,
		Address2:    a.Address2,
		City:        a.City,
		Province:    a.Province,
		PostalCode:  a.Zip,
		CountryCode: a.CountryCode,
		Phone:       a.Phone,
	}
}

func fromAddress(a domain.Address) restAddress {
	return restAddress{
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Company:     a.Company,
		Address1:    a.Address1,
		Address2:    a.Address2,
		City:        a.City,
		Province:    a.Province,
		Zip:         a.PostalCode,
		CountryCode: a.CountryCode,
		Phone:       a.Phone,
	}
}

func toCustomer(c restCustomer) domain.Customer {
	out := domain.Customer{
		ID:               id64(c.ID),
		ExternalID:       id64(c.ID),
		Email:            strings.ToLower(c.Email),
		FirstName:        c.FirstName,
		LastName:         c.LastName,
		Phone:            c.Phone,
		AcceptsMarketing: c.AcceptsMarketing,
		CreatedAt:        c.CreatedAt,
		UpdatedAt:        c.UpdatedAt,
	}
	for _, a := range c.Addresses {
		out.Addresses = append(out.Addresses, toAddress(a))
	}
	return out
}

var financialStatuses = map[string]domain.FinancialStatus{
	"pending":            domain.FinancialPending,
	"authorized":         domain.FinancialAuthorized,
	"partially_paid":     domain.FinancialAuthorized,
	"paid":               domain.FinancialPaid,
	"partially_refunded": domain.FinancialPartiallyRefunded,
	"refunded":           domain.FinancialRefunded,
	"voided":             domain.FinancialVoided,
}

func toOrder(o restOrder) domain.Order {
	cur := o.Currency
	out := domain.Order{
		ID:               id64(o.ID),
		ExternalID:       id64(o.ID),
		Number:           o.Name,
		Email:            strings.ToLower(o.Email),
		Currency:         cur,
		FinancialStatus:  financialStatuses[o.FinancialStatus],
		PaymentReference: id64(o.ID),
		CancelledAt:      o.CancelledAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Totals: domain.Totals{
			Subtotal: money(o.SubtotalPrice, cur),
			Discount: money(o.TotalDiscounts, cur),
			Shipping: money(o.TotalShippingSet.ShopMoney.Amount, cur),
			Tax:      money(o.TotalTax, cur),
			Total:    money(o.TotalPrice, cur),
		},
	}
	if out.FinancialStatus == "" {
		out.FinancialStatus = domain.FinancialPending
	}
	// subtotal_price is after discounts; the canonical subtotal is before.
	out.Totals.Subtotal.Amount += out.Totals.Discount.Amount
	if o.Customer != nil && o.Customer.ID != 0 {
		id := id64(o.Customer.ID)
		out.CustomerID = &id
	}
	if o.ShippingAddress != nil {
		addr := toAddress(*o.ShippingAddress)
		out.ShippingAddress = &addr
	}
	switch {
	case o.CancelledAt != nil:
		out.FulfillmentStatus = domain.FulfillmentCancelled
	case o.FulfillmentStatus == nil:
		out.FulfillmentStatus = domain.FulfillmentUnfulfilled
	case *o.FulfillmentStatus == "fulfilled":
		out.FulfillmentStatus = domain.FulfillmentFulfilled
	case *o.FulfillmentStatus == "partial":
		out.FulfillmentStatus = domain.FulfillmentPartiallyFulfilled
	default:
		out.FulfillmentStatus = domain.FulfillmentUnfulfilled
	}
	refunded := domain.Zero(cur)
	for _, r := range o.Refunds {
		refunded.Amount += refundAmount(r, cur).Amount
	}
	out.Refunded = refunded
	for _, li := range o.LineItems {
		unit := money(li.Price, cur)
		disc := money(li.TotalDiscount, cur)
		line := domain.OrderLine{
			ID:        id64(li.ID),
			SKU:       li.SKU,
			Title:     li.Title,
			Quantity:  li.Quantity,
			UnitPrice: unit,
			Discount:  disc,
			Total:     domain.NewMoney(unit.Amount*int64(li.Quantity)-disc.Amount, cur),
		}
		if li.VariantTitle != "" && li.VariantTitle != "Default Title" {
			line.Title += " - " + li.VariantTitle
		}
		if li.ProductID != nil {
			line.ProductID = id64(*li.ProductID)
		}
		if li.VariantID != nil {
			line.VariantID = id64(*li.VariantID)
		}
		out.Lines = append(out.Lines, line)
	}
	return out
}

func refundAmount(r restRefund, currency string) domain.Money {
	total := domain.Zero(currency)
	for _, t := range r.Transactions {
		if t.Kind == "refund" && (t.Status == "success" || t.Status == "") {
			total.Amount += money(t.Amount, currency).Amount
		}
	}
	return total
}

const refundKeyPrefix = "idempotency-key:"

func toRefund(r restRefund, currency string) domain.Refund {
	out := domain.Refund{
		ID:        id64(r.ID),
		OrderID:   id64(r.OrderID),
		Amount:    refundAmount(r, currency),
		CreatedAt: r.CreatedAt,
	}
	if key, ok := strings.CutPrefix(r.Note, refundKeyPrefix); ok {
		out.IdempotencyKey, out.Reason, _ = strings.Cut(key, " ")
	} else {
		out.Reason = r.Note
	}
	if len(r.Transactions) > 0 {
		out.ProcessorRef = id64(r.Transactions[0].ID)
	}
	return out
}

// GIDs identify Storefront and Admin GraphQL objects, e.g.
// gid://shopify/ProductVariant/123.
const gidPrefix = "gid://shopify/"

func toGID(kind, id string) string {
	if strings.HasPrefix(id, gidPrefix) {
		return id
	}
	return gidPrefix + kind + "/" + id
}

// fromGID returns the numeric tail of a GID, dropping any query string.
func fromGID(gid string) string {
	if !strings.HasPrefix(gid, gidPrefix) {
		return gid
	}
	tail := gid[strings.LastIndexByte(gid, '/')+1:]
	if i := strings.IndexByte(tail, '?'); i >= 0 {
		tail = tail[:i]
	}
	return tail
}
