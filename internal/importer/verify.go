package importer

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"commerce-provider/internal/domain"
	"commerce-provider/internal/provider"
)

const sampleConcurrency = 8

// verify compares record counts and then a random sample field by field.
// Any difference halts the run before cutover.
func (r *Runner) verify(ctx context.Context, run *domain.MigrationRun, src provider.Provider, dst Destination) error {
	for _, entity := range []provider.Entity{provider.EntityProducts, provider.EntityCustomers, provider.EntityOrders} {
		source, err := src.Count(ctx, entity)
		if err != nil {
			return fmt.Errorf("count source %s: %w", entity, err)
		}
		dest, err := dst.Count(ctx, entity)
		if err != nil {
			return fmt.Errorf("count destination %s: %w", entity, err)
		}
		run.Report.Counts[string(entity)] = domain.EntityCount{Source: source, Destination: dest}
		if source != dest {
			return &domain.MigrationIntegrityError{Entity: string(entity), Source: source, Dest: dest}
		}
	}

	var (
		mu         sync.Mutex
		mismatches []string
		sampled    int
	)
	record := func(diffs []string) {
		mu.Lock()
		defer mu.Unlock()
		sampled++
		mismatches = append(mismatches, diffs...)
	}

	products, err := dst.SampleProducts(ctx, r.opts.SampleSize)
	if err != nil {
		return err
	}
	customers, err := dst.SampleCustomers(ctx, r.opts.SampleSize)
	if err != nil {
		return err
	}
	orders, err := dst.SampleOrders(ctx, r.opts.SampleSize)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sampleConcurrency)
	for _, p := range products {
		g.Go(func() error {
			s, err := src.GetProduct(gctx, p.ExternalID)
			if err != nil {
				return fmt.Errorf("fetch source product %s: %w", p.ExternalID, err)
			}
			record(diffProduct(*s, p))
			return nil
		})
	}
	for _, c := range customers {
		g.Go(func() error {
			s, err := src.GetCustomer(gctx, c.ExternalID)
			if err != nil {
				return fmt.Errorf("fetch source customer %s: %w", c.ExternalID, err)
			}
			record(diffCustomer(*s, c))
			return nil
		})
	}
	for _, o := range orders {
		g.Go(func() error {
			s, err := src.GetOrder(gctx, o.ExternalID)
			if err != nil {
				return fmt.Errorf("fetch source order %s: %w", o.ExternalID, err)
			}
			record(diffOrder(*s, o))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	run.Report.Sampled = sampled
	run.Report.Mismatches = mismatches
	if len(mismatches) > 0 {
		return &domain.MigrationIntegrityError{Entity: "sample", Mismatch: mismatches}
	}
	return nil
}

func diffProduct(src, dst domain.Product) []string {
	var out []string
	id := "product " + src.ID
	if src.Handle != dst.Handle {
		out = append(out, fmt.Sprintf("%s: handle %q != %q", id, src.Handle, dst.Handle))
	}
	if src.Title != dst.Title {
		out = append(out, fmt.Sprintf("%s: title %q != %q", id, src.Title, dst.Title))
	}
	if len(src.Variants) != len(dst.Variants) {
		return append(out, fmt.Sprintf("%s: variant count %d != %d", id, len(src.Variants), len(dst.Variants)))
	}
	imported := make(map[string]domain.Variant, len(dst.Variants))
	for _, v := range dst.Variants {
		imported[v.ExternalID] = v
	}
	for _, v := range src.Variants {
		got, ok := imported[v.ID]
		switch {
		case !ok:
			out = append(out, fmt.Sprintf("%s: variant %s missing", id, v.ID))
		case got.SKU != v.SKU:
			out = append(out, fmt.Sprintf("%s: variant %s sku %q != %q", id, v.ID, v.SKU, got.SKU))
		case got.Price != v.Price:
			out = append(out, fmt.Sprintf("%s: variant %s price %s != %s", id, v.ID, v.Price, got.Price))
		}
	}
	return out
}

func diffCustomer(src, dst domain.Customer) []string {
	var out []string
	id := "customer " + src.ID
	if !strings.EqualFold(src.Email, dst.Email) {
		out = append(out, fmt.Sprintf("%s: email %q != %q", id, src.Email, dst.Email))
	}
	if src.FirstName != dst.FirstName || src.LastName != dst.LastName {
		out = append(out, fmt.Sprintf("%s: name differs", id))
	}
	if len(src.Addresses) != len(dst.Addresses) {
		out = append(out, fmt.Sprintf("%s: address count %d != %d", id, len(src.Addresses), len(dst.Addresses)))
	}
	return out
}

func diffOrder(src, dst domain.Order) []string {
	var out []string
	id := "order " + src.ID
	if src.Totals.Total != dst.Totals.Total {
		out = append(out, fmt.Sprintf("%s: total %s != %s", id, src.Totals.Total, dst.Totals.Total))
	}
	if src.FinancialStatus != dst.FinancialStatus {
		out = append(out, fmt.Sprintf("%s: financial status %s != %s", id, src.FinancialStatus, dst.FinancialStatus))
	}
	if len(src.Lines) != len(dst.Lines) {
		out = append(out, fmt.Sprintf("%s: line count %d != %d", id, len(src.Lines), len(dst.Lines)))
	}
	return out
}
