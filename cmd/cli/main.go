package main

import (
	"log"

	"github.com/absmach/cffl/cli"
	"github.com/absmach/cffl/pkg/sdk"
	"github.com/spf13/cobra"
)

func main() {
	var coordinatorURL string

	rootCmd := &cobra.Command{
		Use:   "cffl",
		Short: "Credit-based fair federated learning",
		Long:  `cffl runs credit-based fair federated learning experiments and inspects their results.`,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			s := sdk.NewSDK(sdk.Config{
				CoordinatorURL:  coordinatorURL,
				TLSVerification: cli.DefTLSVerification,
			})
			cli.SetSDK(s)
		},
	}
	rootCmd.PersistentFlags().StringVar(&coordinatorURL, "coordinator-url", cli.DefCoordinatorURL, "Coordinator API URL")

	rootCmd.AddCommand(
		cli.NewInitCmd(),
		cli.NewRunCmd(),
		cli.NewResultsCmd(),
		cli.NewWatchCmd(),
		cli.NewStatusCmd(),
		cli.NewCreditsCmd(),
		cli.NewRoundsCmd(),
		cli.NewReportCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
