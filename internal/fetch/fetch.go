// Package fetch defines the small capability the resolver needs to
// reach outside the process: fetch a payload from an oracle source,
// pull a scalar out of it by dotted path, and evaluate a comparison.
// No pack repo implements dotted-path extraction or a generic
// operator evaluator, so this is new code; the narrow-interface shape
// (one capability, one default implementation, a fake for tests)
// follows the small-interface idiom used throughout the pack.
package fetch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/model"
)

// Timeout is the deadline enforced on every Fetch call.
const Timeout = 10 * time.Second

// Fetcher reaches an oracle source, extracts a scalar from its
// response by dotted path, and evaluates a comparison against it.
// The resolver depends only on this interface.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (any, error)
	Extract(payload any, path string) (model.Scalar, error)
	Evaluate(actual model.Scalar, operator string, expected model.Scalar) (bool, error)
}

// HTTPFetcher is the default Fetcher: it treats source as a URL,
// issues a GET with a 10-second deadline, and decodes the response
// body as JSON.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher builds an HTTPFetcher with a sane default client.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: Timeout}}
}

// Fetch issues a GET against source and decodes the body as JSON.
func (f *HTTPFetcher) Fetch(ctx context.Context, source string) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindFetchFailed, err, "building request for %s", source)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindFetchFailed, err, "fetching %s", source)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, marketerr.Wrap(marketerr.KindFetchFailed, err, "reading response from %s", source)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, marketerr.New(marketerr.KindFetchFailed, "source %s returned status %d", source, resp.StatusCode)
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, marketerr.Wrap(marketerr.KindFetchFailed, err, "decoding JSON from %s", source)
	}
	return payload, nil
}

// Extract walks payload along a dotted path with array-index syntax
// (field[n]), returning undefined (KindPathMissing) on any null or
// missing link.
func (f *HTTPFetcher) Extract(payload any, path string) (model.Scalar, error) {
	return Extract(payload, path)
}

// Evaluate compares actual against expected using operator.
func (f *HTTPFetcher) Evaluate(actual model.Scalar, operator string, expected model.Scalar) (bool, error) {
	return Evaluate(actual, operator, expected)
}

// Extract is the free-function implementation shared by every
// Fetcher: it walks a decoded JSON value (map[string]any /
// []any / leaf) along a dotted path such as "current.temp_f" or
// "readings[2].value".
func Extract(payload any, path string) (model.Scalar, error) {
	cur := payload
	for _, segment := range strings.Split(path, ".") {
		if segment == "" {
			continue
		}
		name, idx, hasIdx := splitIndex(segment)
		if name != "" {
			m, ok := cur.(map[string]any)
			if !ok {
				return model.Scalar{}, marketerr.New(marketerr.KindPathMissing, "path %q: %q is not an object", path, name)
			}
			next, ok := m[name]
			if !ok || next == nil {
				return model.Scalar{}, marketerr.New(marketerr.KindPathMissing, "path %q: missing field %q", path, name)
			}
			cur = next
		}
		if hasIdx {
			arr, ok := cur.([]any)
			if !ok || idx < 0 || idx >= len(arr) {
				return model.Scalar{}, marketerr.New(marketerr.KindPathMissing, "path %q: index %d out of range", path, idx)
			}
			cur = arr[idx]
			if cur == nil {
				return model.Scalar{}, marketerr.New(marketerr.KindPathMissing, "path %q: index %d is null", path, idx)
			}
		}
	}
	return toScalar(cur)
}

// splitIndex parses a path segment like "field[3]" into ("field", 3,
// true), or "field" into ("field", 0, false).
func splitIndex(segment string) (name string, idx int, hasIdx bool) {
	open := strings.IndexByte(segment, '[')
	if open < 0 || !strings.HasSuffix(segment, "]") {
		return segment, 0, false
	}
	name = segment[:open]
	n, err := strconv.Atoi(segment[open+1 : len(segment)-1])
	if err != nil {
		return segment, 0, false
	}
	return name, n, true
}

func toScalar(v any) (model.Scalar, error) {
	switch t := v.(type) {
	case string:
		return model.StringScalar(t), nil
	case bool:
		return model.BoolScalar(t), nil
	case float64:
		return model.NumberScalar(decimal.NewFromFloat(t)), nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		if err != nil {
			return model.Scalar{}, marketerr.Wrap(marketerr.KindPathMissing, err, "extracted value %q is not numeric", t.String())
		}
		return model.NumberScalar(d), nil
	default:
		return model.Scalar{}, marketerr.New(marketerr.KindPathMissing, "extracted value has unsupported type %T", v)
	}
}

// Evaluate implements the comparison-operator list the resolver's
// criteria draw from: equals, not_equals, >, >=, <, <=, contains.
// Numeric comparisons coerce both sides via decimal parsing;
// equals/not_equals compare string-coerced values; contains is a
// case-insensitive substring check.
func Evaluate(actual model.Scalar, operator string, expected model.Scalar) (bool, error) {
	switch operator {
	case "equals":
		return actual.String() == expected.String(), nil
	case "not_equals":
		return actual.String() != expected.String(), nil
	case "contains":
		return strings.Contains(strings.ToLower(actual.String()), strings.ToLower(expected.String())), nil
	case ">", ">=", "<", "<=":
		a, err := decimal.NewFromString(actual.String())
		if err != nil {
			return false, marketerr.Wrap(marketerr.KindUnknownOperator, err, "actual value %q is not numeric for operator %s", actual.String(), operator)
		}
		b, err := decimal.NewFromString(expected.String())
		if err != nil {
			return false, marketerr.Wrap(marketerr.KindUnknownOperator, err, "expected value %q is not numeric for operator %s", expected.String(), operator)
		}
		switch operator {
		case ">":
			return a.GreaterThan(b), nil
		case ">=":
			return a.GreaterThanOrEqual(b), nil
		case "<":
			return a.LessThan(b), nil
		default:
			return a.LessThanOrEqual(b), nil
		}
	default:
		return false, marketerr.New(marketerr.KindUnknownOperator, "unknown operator %q", operator)
	}
}
