package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/cffl/pkg/mqtt"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func NewWatchCmd() *cobra.Command {
	var (
		mqttAddress string
		runID       string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow round records",
		Long:  `Print round records as coordinators publish them over MQTT.`,
		Run: func(cmd *cobra.Command, _ []string) {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			pubsub, err := mqtt.NewPubSub(mqtt.Config{
				Address:  mqttAddress,
				QoS:      1,
				Timeout:  30 * time.Second,
				ClientID: "cffl-watch-" + uuid.NewString(),
			}, logger)
			if err != nil {
				logErrorCmd(*cmd, err)

				return
			}
			defer func() {
				_ = pubsub.Disconnect(cmd.Context())
			}()

			topic := mqtt.AllRoundsTopic
			if runID != "" {
				topic = fmt.Sprintf(mqtt.RoundTopicTemplate, runID)
			}

			handler := func(_ string, msg map[string]any) error {
				logJSONCmd(*cmd, msg)

				return nil
			}
			if err := pubsub.Subscribe(ctx, topic, handler); err != nil {
				logErrorCmd(*cmd, err)

				return
			}

			<-ctx.Done()
		},
	}

	cmd.Flags().StringVar(&mqttAddress, "mqtt-address", "tcp://localhost:1883", "MQTT broker address")
	cmd.Flags().StringVar(&runID, "run", "", "Only follow this run")

	return cmd
}
