package cli

import (
	"strconv"

	"github.com/absmach/cffl/pkg/sdk"
	"github.com/spf13/cobra"
)

var (
	DefCoordinatorURL         = "http://localhost:9090"
	DefTLSVerification        = false
	defOffset          uint64 = 0
	defLimit           uint64 = 10
)

var csdk sdk.SDK

func SetSDK(s sdk.SDK) {
	csdk = s
}

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active run",
		Long:  `Show the state, round and credits of the coordinator's active run.`,
		Run: func(cmd *cobra.Command, _ []string) {
			st, err := csdk.Status()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, st)
		},
	}
}

func NewCreditsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "credits",
		Short: "Show worker credits",
		Long:  `Show the committed credits and threshold of the active run.`,
		Run: func(cmd *cobra.Command, _ []string) {
			c, err := csdk.Credits()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, c)
		},
	}
}

func NewRoundsCmd() *cobra.Command {
	var offset, limit uint64

	cmd := &cobra.Command{
		Use:   "rounds [round]",
		Short: "Show round records",
		Long:  `List the round records of the active run, or show one round.`,
		Run: func(cmd *cobra.Command, args []string) {
			switch len(args) {
			case 0:
				page, err := csdk.ListRounds(offset, limit)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				logJSONCmd(*cmd, page)
			case 1:
				round, err := strconv.Atoi(args[0])
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				rec, err := csdk.GetRound(round)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				logJSONCmd(*cmd, rec)
			default:
				logUsageCmd(*cmd, cmd.Use)
			}
		},
	}

	cmd.Flags().Uint64VarP(&offset, "offset", "o", defOffset, "Offset")
	cmd.Flags().Uint64VarP(&limit, "limit", "l", defLimit, "Limit")

	return cmd
}

func NewReportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the run report",
		Long:  `Show the final report of the active run, including its fairness analysis.`,
		Run: func(cmd *cobra.Command, _ []string) {
			report, err := csdk.Report()
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, report)
		},
	}
}
