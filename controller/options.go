package controller

import (
	"log/slog"

	"github.com/milosgajdos/go-control/solver"
	"github.com/milosgajdos/go-control/solver/admm"
	"github.com/milosgajdos/go-control/solver/ipm"
)

// DefaultOverrideTol is the input deviation above which a filtered input counts as overridden
const DefaultOverrideTol = 1e-5

// Options configure controllers
type Options struct {
	// Logger is controller logger
	Logger *slog.Logger
	// Solvers are candidate backends in order of preference.
	// DefaultSolvers are used if nil.
	Solvers []solver.Backend
	// OverrideTol is the input deviation above which a filtered input counts as overridden
	OverrideTol float64
}

// Option configures controller options
type Option func(*Options)

// WithLogger sets controller logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = l
	}
}

// WithSolvers sets candidate solver backends in order of preference.
// An empty list leaves no candidates: constructing a variant which needs
// a backend then fails with control.ErrSolverUnavailable.
func WithSolvers(b ...solver.Backend) Option {
	return func(o *Options) {
		o.Solvers = append([]solver.Backend{}, b...)
	}
}

// WithOverrideTol sets the override detection tolerance
func WithOverrideTol(tol float64) Option {
	return func(o *Options) {
		o.OverrideTol = tol
	}
}

// DefaultSolvers returns the default candidate backends
func DefaultSolvers() []solver.Backend {
	return []solver.Backend{ipm.New(), admm.New()}
}

func newOptions(opts ...Option) Options {
	o := Options{OverrideTol: DefaultOverrideTol}
	for _, apply := range opts {
		apply(&o)
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	if o.Solvers == nil {
		o.Solvers = DefaultSolvers()
	}

	return o
}
