package controller_test

import (
	"math"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/controller"
	"github.com/milosgajdos/go-control/invariant"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/system"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gonum.org/v1/gonum/mat"
)

const deg = math.Pi / 180

func pendulum(k, c float64, s system.Sets) *system.Linear {
	p, err := system.Pendulum(k, 9.81, 1.3, c)
	Expect(err).NotTo(HaveOccurred())

	sys, err := p.Discretize(0.1, system.Euler, s)
	Expect(err).NotTo(HaveOccurred())

	return sys
}

func box(lo, hi []float64) *polytope.Polytope {
	p, err := polytope.Box(lo, hi)
	Expect(err).NotTo(HaveOccurred())
	return p
}

func weights() controller.Params {
	return controller.Params{
		N: 10,
		Q: mat.NewSymDense(2, []float64{100, 0, 0, 100}),
		R: mat.NewSymDense(1, []float64{10}),
	}
}

var _ = Describe("Controller", func() {
	var X, U *polytope.Polytope

	BeforeEach(func() {
		X = box([]float64{-30 * deg, -45 * deg}, []float64{30 * deg, 45 * deg})
		U = box([]float64{-5}, []float64{5})
	})

	Context("nominal MPC", func() {
		It("returns an optimal admissible input from a feasible state", func() {
			sys := pendulum(4, 1.5, system.Sets{X: X, U: U})

			c, err := controller.NewMPC(sys, weights())
			Expect(err).NotTo(HaveOccurred())
			Expect(c.State()).To(Equal(controller.Ready))

			res, err := c.Solve(mat.NewVecDense(2, []float64{0.1, 0.05}), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status()).To(Equal(control.Optimal))
			Expect(U.Contains(res.Control(), 1e-6)).To(BeTrue())
		})
	})

	Context("robust MPC", func() {
		It("keeps stage 0 nominal and shrinks the terminal stage", func() {
			W := box([]float64{-0.4 * deg, -0.5 * deg}, []float64{0.4 * deg, 0.5 * deg})
			sys := pendulum(4, 1.5, system.Sets{X: X, U: U, W: W})

			c, err := controller.NewRMPC(sys, weights())
			Expect(err).NotTo(HaveOccurred())

			seq := c.Tightening()
			eq, err := seq.State(0).Equal(X, 1e-9)
			Expect(err).NotTo(HaveOccurred())
			Expect(eq).To(BeTrue())

			_, upper, err := seq.Terminal().Bounds()
			Expect(err).NotTo(HaveOccurred())
			_, xupper, err := X.Bounds()
			Expect(err).NotTo(HaveOccurred())
			for i := range upper {
				Expect(upper[i]).To(BeNumerically("<", xupper[i]))
			}
			Expect(seq.Terminal().IsEmpty()).To(BeFalse())
		})
	})

	Context("minimally invasive safety filter", func() {
		It("replaces an input which leaves the invariant set", func() {
			fX, err := polytope.New(
				mat.NewDense(4, 2, []float64{1, 0, -1, 0, 0, 1, 0, -1}),
				mat.NewVecDense(4, []float64{45 * deg, 30 * deg, 30 * deg, 30 * deg}),
			)
			Expect(err).NotTo(HaveOccurred())
			fU := box([]float64{-2}, []float64{2})
			sys := pendulum(8, 1.0, system.Sets{X: fX, U: fU})

			c, err := controller.NewMinIBSF(sys, nil)
			Expect(err).NotTo(HaveOccurred())
			cert := c.Certificate()
			Expect(cert).NotTo(BeNil())

			x, uL := violating(sys, cert)
			Expect(x).NotTo(BeNil())

			res, err := c.Solve(x, &control.Externals{Input: uL})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Status()).To(Equal(control.Optimal))

			u := res.Control()
			Expect(math.Abs(u.AtVec(0) - uL.AtVec(0))).To(BeNumerically(">", 1e-4))

			next, err := sys.Propagate(x, u, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(cert.Value(next)).To(BeNumerically("<=", 1+1e-6))
		})
	})

	Context("oversized disturbance", func() {
		It("reports infeasible tightening", func() {
			W := box([]float64{-40 * deg, -50 * deg}, []float64{40 * deg, 50 * deg})
			sys := pendulum(4, 1.5, system.Sets{X: X, U: U, W: W})

			c, err := controller.NewRMPC(sys, weights())
			Expect(c).To(BeNil())
			Expect(err).To(MatchError(control.ErrInfeasibleTightening))
		})
	})
})

// violating returns a state inside the invariant set of cert and an admissible
// input which drives the next state out of it.
func violating(sys *system.Linear, cert *invariant.Certificate) (*mat.VecDense, *mat.VecDense) {
	P := cert.P()
	for i := 0; i < 72; i++ {
		th := float64(i) * 5 * deg
		d := mat.NewVecDense(2, []float64{math.Cos(th), math.Sin(th)})
		s := 0.98 / math.Sqrt(mat.Inner(d, P, d))
		x := mat.NewVecDense(2, []float64{s * d.AtVec(0), s * d.AtVec(1)})

		for _, v := range []float64{-2, 2} {
			u := mat.NewVecDense(1, []float64{v})
			next, err := sys.Propagate(x, u, nil)
			Expect(err).NotTo(HaveOccurred())
			if cert.Value(next) > 1.01 {
				return x, u
			}
		}
	}
	return nil, nil
}
