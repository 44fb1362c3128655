// Package config provides nested controller, system and simulation parameters
// with presets, YAML overlays and an explicit finalisation step which
// computes the derived quantities used to construct controllers.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/controller"
	"github.com/milosgajdos/go-control/noise"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/system"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

// Params are experiment parameters
type Params struct {
	// Ctrl are controller parameters
	Ctrl Ctrl `yaml:"ctrl"`
	// Sys are system parameters
	Sys Sys `yaml:"sys"`
	// Sim are simulation parameters
	Sim Sim `yaml:"sim"`
	// Plot is accepted for compatibility and ignored
	Plot map[string]any `yaml:"plot,omitempty"`
}

// Ctrl are controller parameters
type Ctrl struct {
	Name string `yaml:"name"`
	// Kind is controller variant, see controller.ParseKind
	Kind string      `yaml:"kind"`
	N    int         `yaml:"N"`
	Q    [][]float64 `yaml:"Q,omitempty"`
	R    [][]float64 `yaml:"R,omitempty"`
	// Terminal is nominal MPC terminal ingredient: equality or cost
	Terminal string `yaml:"terminal,omitempty"`
	// Probability is SMPC constraint satisfaction probability
	Probability float64 `yaml:"probability,omitempty"`
	// Strategy is SMPC strategy: recovery or indirect
	Strategy string `yaml:"strategy,omitempty"`
	// Samples is the number of rollouts of sample-based tightening
	Samples int `yaml:"samples,omitempty"`
	// Gamma is DampIBSF barrier dampening, controller.DefaultGamma if unset
	Gamma *float64 `yaml:"gamma,omitempty"`
}

// Sys are pendulum system parameters.
// Angles are in radians.
type Sys struct {
	N  int     `yaml:"n"`
	M  int     `yaml:"m"`
	Dt float64 `yaml:"dt"`
	// Method is discretisation method: euler or zoh
	Method string `yaml:"method,omitempty"`

	K float64 `yaml:"k"`
	G float64 `yaml:"g"`
	L float64 `yaml:"l"`
	C float64 `yaml:"c"`

	Ax [][]float64 `yaml:"A_x"`
	Bx []float64   `yaml:"b_x"`
	Au [][]float64 `yaml:"A_u"`
	Bu []float64   `yaml:"b_u"`
	Aw [][]float64 `yaml:"A_w,omitempty"`
	Bw []float64   `yaml:"b_w,omitempty"`

	// Noise is noise generator: zero, vertices or gaussian
	Noise string `yaml:"noise"`
	// NoiseCov is gaussian noise covariance
	NoiseCov [][]float64 `yaml:"noise_cov,omitempty"`
	// Seed seeds the noise generator, 0 seeds it with current time
	Seed uint64 `yaml:"seed,omitempty"`
}

// Sim are simulation parameters
type Sim struct {
	NumSteps int       `yaml:"num_steps"`
	NumTraj  int       `yaml:"num_traj"`
	X0       []float64 `yaml:"x_0"`
}

// Final are finalised parameters ready to construct a controller
type Final struct {
	// Kind is controller variant
	Kind controller.Kind
	// System is the discretised constrained system
	System *system.Linear
	// Noise is the disturbance generator
	Noise control.Noise
	// Controller are static controller parameters
	Controller controller.Params
	// X0 is the initial state
	X0 *mat.VecDense
	// Steps and Trajectories size the simulation
	Steps        int
	Trajectories int
}

// Load reads YAML parameters from path on top of base
func Load(path string, base Params) (Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}

	return Decode(bytes.NewReader(data), base)
}

// Decode decodes YAML parameters from r on top of base.
// Unknown fields are rejected.
func Decode(r io.Reader, base Params) (Params, error) {
	p := base.clone()

	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return base, fmt.Errorf("%w: %w", control.ErrConfiguration, err)
	}

	return p, nil
}

// Marshal encodes p to YAML
func (p Params) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

func (p Params) clone() Params {
	out := p
	out.Ctrl.Q = cloneRows(p.Ctrl.Q)
	out.Ctrl.R = cloneRows(p.Ctrl.R)
	if p.Ctrl.Gamma != nil {
		g := *p.Ctrl.Gamma
		out.Ctrl.Gamma = &g
	}
	out.Sys.Ax = cloneRows(p.Sys.Ax)
	out.Sys.Au = cloneRows(p.Sys.Au)
	out.Sys.Aw = cloneRows(p.Sys.Aw)
	out.Sys.NoiseCov = cloneRows(p.Sys.NoiseCov)
	out.Sys.Bx = append([]float64(nil), p.Sys.Bx...)
	out.Sys.Bu = append([]float64(nil), p.Sys.Bu...)
	out.Sys.Bw = append([]float64(nil), p.Sys.Bw...)
	out.Sim.X0 = append([]float64(nil), p.Sim.X0...)
	out.Plot = nil
	return out
}

func cloneRows(rows [][]float64) [][]float64 {
	if rows == nil {
		return nil
	}
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = append([]float64(nil), r...)
	}
	return out
}

// Finalize validates p and computes the discretised system, constraint
// polytopes, noise generator and controller weights.
func (p Params) Finalize() (*Final, error) {
	kind, err := controller.ParseKind(p.Ctrl.Kind)
	if err != nil {
		return nil, err
	}

	sys, err := p.Sys.system()
	if err != nil {
		return nil, err
	}

	n, m := sys.Dims()

	w, err := p.Sys.noise(sys.DisturbanceSet())
	if err != nil {
		return nil, err
	}

	cp := controller.Params{N: p.Ctrl.N}

	if p.Ctrl.Q != nil {
		if cp.Q, err = symmetric("Q", p.Ctrl.Q, n); err != nil {
			return nil, err
		}
	}
	if p.Ctrl.R != nil {
		if cp.R, err = symmetric("R", p.Ctrl.R, m); err != nil {
			return nil, err
		}
	}

	switch strings.ToLower(p.Ctrl.Terminal) {
	case "", "equality":
		cp.Terminal = controller.TerminalEquality
	case "cost":
		cp.Terminal = controller.TerminalCost
	default:
		return nil, fmt.Errorf("%w: unknown terminal %q", control.ErrConfiguration, p.Ctrl.Terminal)
	}

	switch kind {
	case controller.SMPC:
		s, err := controller.ParseStrategy(p.Ctrl.Strategy)
		if err != nil {
			return nil, err
		}
		cp.Stochastic = &controller.Stochastic{
			Noise:       w,
			Probability: p.Ctrl.Probability,
			Strategy:    s,
			Samples:     p.Ctrl.Samples,
		}
	case controller.IBSF, controller.MinIBSF, controller.DampIBSF, controller.PSF:
		gamma := controller.DefaultGamma
		if p.Ctrl.Gamma != nil {
			gamma = *p.Ctrl.Gamma
		}
		cp.Filter = &controller.Filter{Gamma: gamma}
	}

	if len(p.Sim.X0) != n {
		return nil, fmt.Errorf("%w: initial state has length %d, expected %d", control.ErrConfiguration, len(p.Sim.X0), n)
	}

	if p.Sim.NumSteps < 0 || p.Sim.NumTraj < 0 {
		return nil, fmt.Errorf("%w: negative simulation size", control.ErrConfiguration)
	}

	return &Final{
		Kind:         kind,
		System:       sys,
		Noise:        w,
		Controller:   cp,
		X0:           mat.NewVecDense(n, append([]float64(nil), p.Sim.X0...)),
		Steps:        p.Sim.NumSteps,
		Trajectories: p.Sim.NumTraj,
	}, nil
}

func (s Sys) method() (system.Method, error) {
	switch strings.ToLower(s.Method) {
	case "", "euler":
		return system.Euler, nil
	case "zoh":
		return system.ZeroOrderHold, nil
	}
	return 0, fmt.Errorf("%w: unknown discretisation method %q", control.ErrConfiguration, s.Method)
}

func (s Sys) system() (*system.Linear, error) {
	if s.N != 2 || s.M != 1 {
		return nil, fmt.Errorf("%w: pendulum has 2 states and 1 input, got %d and %d", control.ErrConfiguration, s.N, s.M)
	}

	if s.Dt <= 0 {
		return nil, fmt.Errorf("%w: sampling time must be positive, got %g", control.ErrConfiguration, s.Dt)
	}

	method, err := s.method()
	if err != nil {
		return nil, err
	}

	p, err := system.Pendulum(s.K, s.G, s.L, s.C)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", control.ErrConfiguration, err)
	}

	var sets system.Sets

	if sets.X, err = halfspaces("state", s.Ax, s.Bx, s.N); err != nil {
		return nil, err
	}
	if sets.U, err = halfspaces("input", s.Au, s.Bu, s.M); err != nil {
		return nil, err
	}
	if s.Aw != nil || s.Bw != nil {
		if sets.W, err = halfspaces("disturbance", s.Aw, s.Bw, s.N); err != nil {
			return nil, err
		}
	}

	return p.Discretize(s.Dt, method, sets)
}

func (s Sys) noise(W *polytope.Polytope) (control.Noise, error) {
	switch strings.ToLower(s.Noise) {
	case "", "zero":
		return noise.NewZero(s.N)
	case "vertices":
		if W == nil {
			return nil, fmt.Errorf("%w: vertex noise requires a disturbance set", control.ErrConfiguration)
		}
		return noise.NewVertices(W, s.Seed)
	case "gaussian":
		cov, err := symmetric("noise_cov", s.NoiseCov, s.N)
		if err != nil {
			return nil, err
		}
		return noise.NewGaussianWithSeed(make([]float64, s.N), cov, s.Seed)
	}
	return nil, fmt.Errorf("%w: unknown noise %q", control.ErrConfiguration, s.Noise)
}

// halfspaces returns the polytope {x : A x <= b} of dimension dim
func halfspaces(name string, A [][]float64, b []float64, dim int) (*polytope.Polytope, error) {
	if len(A) == 0 || len(A) != len(b) {
		return nil, fmt.Errorf("%w: %s constraints have %d rows and %d offsets", control.ErrConfiguration, name, len(A), len(b))
	}

	data := make([]float64, 0, len(A)*dim)
	for _, row := range A {
		if len(row) != dim {
			return nil, fmt.Errorf("%w: %s constraint row of length %d, expected %d", control.ErrConfiguration, name, len(row), dim)
		}
		data = append(data, row...)
	}

	p, err := polytope.NewWithDim(dim, mat.NewDense(len(A), dim, data), mat.NewVecDense(len(b), append([]float64(nil), b...)))
	if err != nil {
		return nil, fmt.Errorf("%s constraints: %w", name, err)
	}

	return p, nil
}

// symmetric returns rows as a symmetric n x n matrix
func symmetric(name string, rows [][]float64, n int) (*mat.SymDense, error) {
	if len(rows) != n {
		return nil, fmt.Errorf("%w: %s has %d rows, expected %d", control.ErrConfiguration, name, len(rows), n)
	}

	for i, row := range rows {
		if len(row) != n {
			return nil, fmt.Errorf("%w: %s row %d has length %d, expected %d", control.ErrConfiguration, name, i, len(row), n)
		}
	}

	S := mat.NewSymDense(n, nil)
	for i, row := range rows {
		for j := i; j < n; j++ {
			if rows[j][i] != row[j] {
				return nil, fmt.Errorf("%w: %s is not symmetric", control.ErrConfiguration, name)
			}
			S.SetSym(i, j, row[j])
		}
	}

	return S, nil
}
