package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Prints the current version of this hook binary.",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(Version)
	},
}
