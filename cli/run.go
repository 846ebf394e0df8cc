package cli

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/absmach/cffl"
	"github.com/absmach/cffl/experiment"
	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/absmach/cffl/pkg/storage"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

const logFile = "log"

func NewRunCmd() *cobra.Command {
	var (
		storageType string
		dbDir       string
		mqttAddress string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "run <config>",
		Short: "Run an experiment",
		Long: `Run every repeat of the experiment described by a TOML or YAML file and
write the aggregated results into its log directory. Experiments whose
directory already holds complete.txt are not rerun. With checkpoint_dir set,
an interrupted repeat continues from its last checkpointed round.`,
		Run: func(cmd *cobra.Command, args []string) {
			if len(args) != 1 {
				logUsageCmd(*cmd, cmd.Use)

				return
			}

			cfg, err := cffl.LoadConfig(args[0])
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			dir := cfg.RunDir()
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, filePermission)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			defer f.Close()

			var out io.Writer = f
			if verbose {
				out = io.MultiWriter(f, cmd.ErrOrStderr())
			}
			logger := slog.New(slog.NewJSONHandler(out, nil))

			opts := experiment.Options{
				Storage: storage.Config{Type: storageType, Dir: dbDir},
			}
			if mqttAddress != "" {
				pubsub, err := mqtt.NewPubSub(mqtt.Config{
					Address:  mqttAddress,
					QoS:      1,
					Timeout:  30 * time.Second,
					ClientID: "cffl-cli-" + uuid.NewString(),
				}, logger)
				if err != nil {
					logErrorCmd(*cmd, err)

					return
				}
				defer func() {
					_ = pubsub.Disconnect(cmd.Context())
				}()
				opts.Publisher = pubsub
			}

			summary, err := experiment.NewRunner(*cfg, opts, logger).Run(cmd.Context())
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			logJSONCmd(*cmd, summary.Mean)
			logOKCmd(*cmd, "results written to "+dir)
		},
	}

	cmd.Flags().StringVar(&storageType, "storage", "", "Round record storage: memory, badger or sqlite (badger when --db-dir is set)")
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "Directory for round records (in memory when empty)")
	cmd.Flags().StringVar(&mqttAddress, "mqtt-address", "", "MQTT broker to publish round records to")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Also write the run log to stderr")

	return cmd
}
