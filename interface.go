package botcha

import (
	"context"
	"net/http"

	"github.com/layer-3/botcha/ports"
)

// Solver maps puzzles to fingerprints; see ports.Solver
type Solver = ports.Solver

// SolverFunc adapts a plain function to Solver
type SolverFunc = ports.SolverFunc

// TokenSource hands out a bearer token that is valid for at least the refresh buffer
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Doer sends an HTTP request. Both *http.Client and *Client satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

var (
	_ TokenSource = (*Client)(nil)
	_ Doer        = (*Client)(nil)
)
