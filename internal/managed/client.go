package managed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"

	"commerce-provider/internal/domain"
)

// apiError is the error body shape of the Admin REST API. Errors is either
// a string or a map of field to messages.
type apiError struct {
	Errors json.RawMessage `json:"errors"`
}

func (e apiError) message() string {
	if len(e.Errors) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(e.Errors, &s) == nil {
		return s
	}
	var fields map[string][]string
	if json.Unmarshal(e.Errors, &fields) == nil {
		parts := make([]string, 0, len(fields))
		for f, msgs := range fields {
			parts = append(parts, f+" "+strings.Join(msgs, ", "))
		}
		return strings.Join(parts, "; ")
	}
	return string(e.Errors)
}

// rest issues one Admin REST call and classifies the outcome.
func (a *Adapter) rest(ctx context.Context, method, op, path string, body, out any, configure ...func(*resty.Request)) (*resty.Response, error) {
	req := a.admin.R().SetContext(ctx).SetError(&apiError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	for _, fn := range configure {
		fn(req)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, &domain.ProviderTransientError{Op: op, Err: err}
	}
	if !resp.IsError() {
		return resp, nil
	}
	msg := ""
	if e, ok := resp.Error().(*apiError); ok {
		msg = e.message()
	}
	return resp, a.classify(op, resp.StatusCode(), msg)
}

func (a *Adapter) classify(op string, status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case status == http.StatusTooManyRequests || status >= 500:
		return &domain.ProviderTransientError{Op: op, Err: fmt.Errorf("status %d: %s", status, msg)}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &domain.ConfigurationError{TenantID: a.cfg.TenantID, Reason: "managed platform rejected credentials", Err: fmt.Errorf("status %d", status)}
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return &domain.ValidationError{Reason: msg}
	}
	return &domain.ProviderPermanentError{Op: op, Code: fmt.Sprintf("http_%d", status), Message: msg}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type gqlResponse[T any] struct {
	Data   T          `json:"data"`
	Errors []gqlError `json:"errors"`
}

// userError is the per-mutation validation error list.
type userError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
	Code    string   `json:"code"`
}

func userErrorsToErr(errs []userError) error {
	if len(errs) == 0 {
		return nil
	}
	return &domain.ValidationError{Field: strings.Join(errs[0].Field, "."), Reason: errs[0].Message}
}

// graphql posts a query to client and decodes data into T.
func graphql[T any](ctx context.Context, a *Adapter, client *resty.Client, op, query string, vars map[string]any) (T, error) {
	var out gqlResponse[T]
	resp, err := client.R().
		SetContext(ctx).
		SetBody(gqlRequest{Query: query, Variables: vars}).
		SetResult(&out).
		Post("/graphql.json")
	if err != nil {
		return out.Data, &domain.ProviderTransientError{Op: op, Err: err}
	}
	if resp.IsError() {
		return out.Data, a.classify(op, resp.StatusCode(), resp.String())
	}
	if len(out.Errors) > 0 {
		e := out.Errors[0]
		if e.Extensions.Code == "THROTTLED" || e.Extensions.Code == "INTERNAL_SERVER_ERROR" {
			return out.Data, &domain.ProviderTransientError{Op: op, Err: errors.New(e.Message)}
		}
		return out.Data, &domain.ProviderPermanentError{Op: op, Code: strings.ToLower(e.Extensions.Code), Message: e.Message}
	}
	return out.Data, nil
}
