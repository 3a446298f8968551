package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gopgi",
	Short: "Petrophysically guided regularization for geophysical inversion",
	Long: `
Fits a weighted Gaussian mixture prior to multi-property samples and
evaluates the clustering regularization used inside gradient-based
geophysical inversion.

gopgi `,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
