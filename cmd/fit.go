package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/geosparse/gopgi/config"
	"github.com/geosparse/gopgi/mixture"
)

// FitCmd fits the mixture prior from a YAML run description.
var FitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit the Gaussian mixture prior to property samples",
	Long: `
Reads the run parameters from a YAML file, loads the property samples and
optional cell weights, fits the weighted Gaussian mixture and prints the
fitted components.

gopgi fit -i run.yaml `,
	Run: func(cmd *cobra.Command, args []string) {
		inputFile, _ := cmd.Flags().GetString("input")
		verbose, _ := cmd.Flags().GetBool("verbose")
		params, samples, weights := loadRun(inputFile)
		gmm := fitRun(params, samples, weights, verbose)
		gmm.Print()
	},
}

func init() {
	rootCmd.AddCommand(FitCmd)
	FitCmd.Flags().StringP("input", "i", "run.yaml", "YAML run parameter file")
	FitCmd.Flags().BoolP("verbose", "v", false, "print per-restart progress")
}

func loadRun(inputFile string) (params *config.Parameters, samples *mat.Dense, weights []float64) {
	var (
		data []byte
		err  error
	)
	if data, err = os.ReadFile(inputFile); err != nil {
		fmt.Printf("unable to read %s: %v\n", inputFile, err)
		os.Exit(1)
	}
	params = &config.Parameters{}
	if err = params.Parse(data); err != nil {
		fmt.Printf("unable to parse %s: %v\n", inputFile, err)
		os.Exit(1)
	}
	params.Print()
	if samples, err = loadSamplesCSV(params.SamplesFile); err != nil {
		fmt.Printf("unable to load samples: %v\n", err)
		os.Exit(1)
	}
	if params.WeightsFile != "" {
		if weights, err = loadWeightsCSV(params.WeightsFile); err != nil {
			fmt.Printf("unable to load weights: %v\n", err)
			os.Exit(1)
		}
	}
	return
}

func fitRun(params *config.Parameters, samples *mat.Dense, weights []float64, verbose bool) (gmm *mixture.Weighted) {
	cfg, err := params.MixtureConfig()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	cfg.Verbose = verbose
	if gmm, err = mixture.New(cfg); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err = gmm.Fit(samples, weights); err != nil {
		fmt.Printf("fit failed: %v\n", err)
		os.Exit(1)
	}
	return
}
