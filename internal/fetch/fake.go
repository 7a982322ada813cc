package fetch

import (
	"context"

	"github.com/foretell/marketex/internal/marketerr"
	"github.com/foretell/marketex/internal/model"
)

// Fake is a test double for Fetcher: it returns a canned payload or
// error instead of making a network call.
type Fake struct {
	Payload any
	Err     error
}

// Fetch returns the canned payload/error.
func (f *Fake) Fetch(_ context.Context, _ string) (any, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Payload, nil
}

// Extract delegates to the free-function implementation so fakes
// exercise the real dotted-path logic.
func (f *Fake) Extract(payload any, path string) (model.Scalar, error) {
	return Extract(payload, path)
}

// Evaluate delegates to the free-function implementation.
func (f *Fake) Evaluate(actual model.Scalar, operator string, expected model.Scalar) (bool, error) {
	return Evaluate(actual, operator, expected)
}

var _ Fetcher = (*Fake)(nil)

// ErrTimeout is a canned error a Fake can return to simulate a fetch
// deadline being exceeded.
var ErrTimeout = marketerr.New(marketerr.KindFetchFailed, "fetch timed out")
