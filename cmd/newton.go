package cmd

import (
	"fmt"
	"math"
	"os"

	"github.com/spf13/cobra"

	"github.com/geosparse/gopgi/mesh"
	"github.com/geosparse/gopgi/regularization"
	"github.com/geosparse/gopgi/solver"
	"github.com/geosparse/gopgi/wiring"
)

// NewtonCmd fits the prior, then takes one Newton step of the
// regularization starting from the samples themselves and reports how far
// each cell lands from its assigned cluster mean.
var NewtonCmd = &cobra.Command{
	Use:   "newton",
	Short: "Fit the prior and take one Newton step of the regularization",
	Long: `
Fits the mixture prior, evaluates the regularization gradient and
Gauss-Newton Hessian at the sample model, solves for the Newton direction
and reports the residual against the assigned cluster means.

gopgi newton -i run.yaml `,
	Run: func(cmd *cobra.Command, args []string) {
		inputFile, _ := cmd.Flags().GetString("input")
		verbose, _ := cmd.Flags().GetBool("verbose")
		useCG, _ := cmd.Flags().GetBool("cg")
		params, samples, weights := loadRun(inputFile)
		gmm := fitRun(params, samples, weights, verbose)

		n, k := samples.Dims()
		if len(params.Properties) != k {
			fmt.Printf("run names %d properties, samples have %d columns\n", len(params.Properties), k)
			os.Exit(1)
		}
		wires, err := wiring.NewMap(n, params.Properties...)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		msh, err := mesh.NewUniform(n)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		opts, err := params.RegularizationOptions()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		build := regularization.NewSimple
		if params.UseVolumes {
			build = regularization.NewWithVolumes
		}
		reg, err := build(gmm, wires, msh, opts)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Stack the samples into the model layout: properties first, cells
		// within each property.
		model := make([]float64, wires.Size())
		for pi, r := range wires.Ranges() {
			for i := 0; i < n; i++ {
				model[r.Lo+i] = samples.At(i, pi)
			}
		}
		var slv solver.Interface = solver.Direct{}
		if useCG {
			slv = solver.CG{}
		}
		step, err := solver.Newton(reg, model, slv)
		if err != nil {
			fmt.Printf("Newton step failed: %v\n", err)
			os.Exit(1)
		}

		labels, err := gmm.Predict(samples)
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		maxDev := 0.0
		for pi, r := range wires.Ranges() {
			for i := 0; i < n; i++ {
				ref := gmm.MeanAt(labels[i])[pi]
				if dev := math.Abs(step.Updated[r.Lo+i] - ref); dev > maxDev {
					maxDev = dev
				}
			}
		}
		fmt.Printf("one Newton step moves the model to the assigned cluster means "+
			"within a max deviation of %10.6e\n", maxDev)
	},
}

func init() {
	rootCmd.AddCommand(NewtonCmd)
	NewtonCmd.Flags().StringP("input", "i", "run.yaml", "YAML run parameter file")
	NewtonCmd.Flags().BoolP("verbose", "v", false, "print per-restart progress")
	NewtonCmd.Flags().Bool("cg", false, "use the conjugate-gradient solver instead of the direct factorization")
}
