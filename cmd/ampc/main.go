package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/milosgajdos/go-control"
	"github.com/milosgajdos/go-control/config"
	"github.com/milosgajdos/go-control/controller"
	"github.com/milosgajdos/go-control/invariant"
	"github.com/milosgajdos/go-control/polytope"
	"github.com/milosgajdos/go-control/tightening"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"
)

var (
	verbose    bool
	preset     string
	configFile string
	kind       string
	x0         []float64
	input      []float64
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newRootCmd registers commands and flags and returns the root command
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ampc",
		Short:         "model predictive control and safety filter toolbox",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&preset, "preset", "rmpc", "parameter preset: mpc, rmpc, smpc, sf")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml) applied on top of the preset")

	solveCmd := &cobra.Command{
		Use:   "solve",
		Short: "solve the controller once from the initial state",
		RunE:  solve,
	}
	solveCmd.Flags().StringVar(&kind, "kind", "", "controller variant overriding the preset")
	solveCmd.Flags().Float64SliceVar(&x0, "x0", nil, "initial state overriding the preset")
	solveCmd.Flags().Float64SliceVar(&input, "input", nil, "proposed input of safety filters")

	certifyCmd := &cobra.Command{
		Use:   "certify",
		Short: "synthesise the invariant ellipsoid and feedback gain",
		RunE:  certify,
	}

	tightenCmd := &cobra.Command{
		Use:   "tighten",
		Short: "print tightened constraints along the horizon",
		RunE:  tighten,
	}

	rootCmd.AddCommand(solveCmd, certifyCmd, tightenCmd)

	return rootCmd
}

func logger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func params() (config.Params, error) {
	p, ok := config.Preset(preset)
	if !ok {
		return p, fmt.Errorf("%w: unknown preset %q", control.ErrConfiguration, preset)
	}

	if configFile != "" {
		return config.Load(configFile, p)
	}

	return p, nil
}

func finalize() (*config.Final, error) {
	p, err := params()
	if err != nil {
		return nil, err
	}

	if kind != "" {
		p.Ctrl.Kind = kind
	}
	if x0 != nil {
		p.Sim.X0 = x0
	}

	return p.Finalize()
}

func solve(cmd *cobra.Command, args []string) error {
	log := logger()

	f, err := finalize()
	if err != nil {
		return err
	}

	c, err := controller.New(f.Kind, f.System, f.Controller, controller.WithLogger(log))
	if err != nil {
		return err
	}

	var ext *control.Externals
	if input != nil {
		ext = &control.Externals{Input: mat.NewVecDense(len(input), input)}
	}

	res, err := c.Solve(f.X0, ext)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "controller: %v (%s)\n", c.Kind(), c.BackendName())
	fmt.Fprintf(out, "status:     %v\n", res.Status())

	if !res.Status().OK() {
		fmt.Fprintf(out, "error:      %v\n", res.Err())

		u, err := c.Fallback(f.X0)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "fallback:   %v\n", mat.Formatted(u.T(), mat.Squeeze()))
		return nil
	}

	fmt.Fprintf(out, "control:    %v\n", mat.Formatted(res.Control().T(), mat.Squeeze()))

	if X := res.State(); X != nil {
		fmt.Fprintf(out, "state:\n%v\n", mat.Formatted(X, mat.Prefix(""), mat.Squeeze()))
	}

	return nil
}

func certify(cmd *cobra.Command, args []string) error {
	f, err := finalize()
	if err != nil {
		return err
	}

	cert, err := invariant.Synthesize(f.System, nil)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "P:\n%v\n", mat.Formatted(cert.P(), mat.Prefix(""), mat.Squeeze()))
	fmt.Fprintf(out, "K:\n%v\n", mat.Formatted(cert.K(), mat.Prefix(""), mat.Squeeze()))

	return nil
}

func tighten(cmd *cobra.Command, args []string) error {
	log := logger()

	f, err := finalize()
	if err != nil {
		return err
	}

	if f.Kind != controller.RMPC && f.Kind != controller.SMPC {
		f.Kind = controller.RMPC
	}

	c, err := controller.New(f.Kind, f.System, f.Controller, controller.WithLogger(log))
	if err != nil {
		return err
	}

	return printSequence(cmd.OutOrStdout(), c.Tightening())
}

func printSequence(out io.Writer, seq *tightening.Sequence) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STAGE\tSTATE LOWER\tSTATE UPPER\tINPUT LOWER\tINPUT UPPER")

	for k := 0; k <= seq.Horizon(); k++ {
		xl, xu, err := bounds(seq.State(k))
		if err != nil {
			return fmt.Errorf("stage %d: %w", k, err)
		}
		ul, uu, err := bounds(seq.Input(k))
		if err != nil {
			return fmt.Errorf("stage %d: %w", k, err)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", k, xl, xu, ul, uu)
	}

	return w.Flush()
}

func bounds(p *polytope.Polytope) (string, string, error) {
	lo, hi, err := p.Bounds()
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%.4g", lo), fmt.Sprintf("%.4g", hi), nil
}
