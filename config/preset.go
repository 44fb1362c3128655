package config

import "math"

const deg = math.Pi / 180

// box returns the rows of the constraints |x_i| <= b_i, two rows per dimension
func box(b ...float64) ([][]float64, []float64) {
	var A [][]float64
	var off []float64
	for i, v := range b {
		row := make([]float64, len(b))
		row[i] = 1
		neg := make([]float64, len(b))
		neg[i] = -1
		A = append(A, row, neg)
		off = append(off, v, v)
	}
	return A, off
}

func pendulum() Sys {
	Ax, Bx := box(30*deg, 45*deg)
	Au, Bu := box(5)

	return Sys{
		N:      2,
		M:      1,
		Dt:     0.1,
		Method: "euler",
		K:      4,
		G:      9.81,
		L:      1.3,
		C:      1.5,
		Ax:     Ax,
		Bx:     Bx,
		Au:     Au,
		Bu:     Bu,
		Noise:  "zero",
	}
}

// MPC returns nominal MPC parameters
func MPC() Params {
	return Params{
		Ctrl: Ctrl{
			Name:     "nominal linear MPC",
			Kind:     "mpc",
			N:        10,
			Q:        [][]float64{{100, 0}, {0, 100}},
			R:        [][]float64{{10}},
			Terminal: "equality",
		},
		Sys: pendulum(),
		Sim: Sim{
			NumSteps: 30,
			NumTraj:  1,
			X0:       []float64{25 * deg, 20 * deg},
		},
	}
}

// RMPC returns robust MPC parameters
func RMPC() Params {
	p := MPC()
	p.Ctrl.Name = "robust linear MPC"
	p.Ctrl.Kind = "rmpc"
	p.Ctrl.Terminal = ""

	p.Sys.Aw, p.Sys.Bw = box(0.4*deg, 0.5*deg)
	p.Sys.Noise = "vertices"

	p.Sim.NumTraj = 25

	return p
}

// SMPC returns stochastic MPC parameters
func SMPC() Params {
	p := RMPC()
	p.Ctrl.Name = "stochastic linear MPC"
	p.Ctrl.Kind = "smpc"
	p.Ctrl.Probability = 0.9
	p.Ctrl.Strategy = "recovery"

	s := 0.2 * deg
	p.Sys.Noise = "gaussian"
	p.Sys.NoiseCov = [][]float64{{s * s, 0}, {0, s * s}}

	return p
}

// SF returns safety filter parameters
func SF() Params {
	Ax := [][]float64{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	Bx := []float64{45 * deg, 30 * deg, 30 * deg, 30 * deg}
	Au, Bu := box(2)
	gamma := 1.0

	return Params{
		Ctrl: Ctrl{
			Name:  "safety filter",
			Kind:  "psf",
			N:     30,
			Gamma: &gamma,
		},
		Sys: Sys{
			N:      2,
			M:      1,
			Dt:     0.1,
			Method: "euler",
			K:      8,
			G:      9.81,
			L:      1.3,
			C:      1.0,
			Ax:     Ax,
			Bx:     Bx,
			Au:     Au,
			Bu:     Bu,
			Noise:  "zero",
		},
		Sim: Sim{
			NumSteps: 100,
			NumTraj:  1,
			X0:       []float64{10 * deg, -20 * deg},
		},
	}
}

// Preset returns the parameters preset named name
func Preset(name string) (Params, bool) {
	switch name {
	case "mpc":
		return MPC(), true
	case "rmpc":
		return RMPC(), true
	case "smpc":
		return SMPC(), true
	case "sf":
		return SF(), true
	}
	return Params{}, false
}
