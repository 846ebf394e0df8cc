package cli

import (
	"fmt"

	"github.com/absmach/cffl/pkg/results"
	"github.com/spf13/cobra"
)

func NewResultsCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "results <dir>",
		Short: "Show experiment results",
		Long:  `Show the aggregated results of a completed experiment.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			if !results.IsComplete(args[0]) {
				logErrorCmd(*cmd, fmt.Errorf("experiment in %s is not complete", args[0]))

				return
			}

			summary, err := results.Load(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if all {
				logJSONCmd(*cmd, summary)

				return
			}

			type row struct {
				Mean []float64 `json:"mean"`
				Std  []float64 `json:"std"`
			}
			rows := make(map[string]row, len(summary.Runs))
			for _, name := range summary.Names() {
				rows[name] = row{Mean: summary.Mean[name], Std: summary.Std[name]}
			}
			logJSONCmd(*cmd, rows)
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include every repeat's values")

	return cmd
}
