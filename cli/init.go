package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/absmach/cffl"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
)

var errNotPositive = errors.New("must be a positive number")

func NewInitCmd() *cobra.Command {
	var defaults bool

	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Create an experiment file",
		Long:  `Create a TOML experiment file, interactively unless --defaults is given.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg := cffl.Default()
			if !defaults {
				if err := configForm(&cfg).Run(); err != nil {
					logErrorCmd(*cmd, err)

					return
				}
			}

			if err := cfg.Validate(); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			if err := cfg.Save(args[0]); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logOKCmd(*cmd, "experiment written to "+args[0])
		},
	}

	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write the default experiment without prompting")

	return cmd
}

// configForm edits cfg in place once the returned form has run.
func configForm(cfg *cffl.Config) *huh.Form {
	workers := strconv.Itoa(cfg.Protocol.Workers)
	rounds := strconv.Itoa(cfg.Training.FLEpochs)
	theta := strconv.FormatFloat(cfg.Protocol.Thetas[0], 'f', -1, 64)
	lr := strconv.FormatFloat(cfg.Training.LR, 'f', -1, 64)

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Experiment name").
				Value(&cfg.Experiment.Name),
			huh.NewInput().
				Title("Log directory").
				Value(&cfg.Experiment.LogDir),
			huh.NewSelect[string]().
				Title("Data split").
				Options(
					huh.NewOption("Power law", "powerlaw"),
					huh.NewOption("Uniform", "uniform"),
				).
				Value(&cfg.Data.Split),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Workers").
				Value(&workers).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return errNotPositive
					}
					cfg.Protocol.Workers = n

					return nil
				}),
			huh.NewInput().
				Title("Federated rounds").
				Value(&rounds).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return errNotPositive
					}
					cfg.Training.FLEpochs = n

					return nil
				}),
			huh.NewInput().
				Title("Learning rate").
				Value(&lr).
				Validate(func(s string) error {
					v, err := strconv.ParseFloat(s, 64)
					if err != nil || v <= 0 {
						return errNotPositive
					}
					cfg.Training.LR = v

					return nil
				}),
			huh.NewInput().
				Title("Theta").
				Description("Fraction of its own update each worker shares").
				Value(&theta).
				Validate(func(s string) error {
					v, err := strconv.ParseFloat(s, 64)
					if err != nil || v < 0 || v > 1 {
						return fmt.Errorf("theta must be in [0, 1]")
					}
					cfg.Protocol.Thetas = []float64{v}

					return nil
				}),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Allocation strategy").
				Options(huh.NewOptions("topk", "frequency")...).
				Value(&cfg.Protocol.Allocation),
			huh.NewSelect[string]().
				Title("Allocation budget").
				Options(huh.NewOptions("absolute", "relative")...).
				Value(&cfg.Protocol.Budget),
			huh.NewSelect[string]().
				Title("DSSGD order").
				Options(huh.NewOptions("roundrobin", "credit")...).
				Value(&cfg.Protocol.DSSGDOrder),
			huh.NewConfirm().
				Title("Fade credit history").
				Value(&cfg.Protocol.Fade),
		),
	)
}
