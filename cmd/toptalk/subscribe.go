package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/publish"
)

func newSubscribeCommand() *cobra.Command {
	var (
		configPath string
		interval   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "subscribe",
		Short: "Print top talker messages received from NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := publish.NewSubscriber(ctx, cfg.Publish.NATS)
			if err != nil {
				return err
			}
			defer sub.Close()

			log := logging.WithComponent("subscriber")
			err = sub.Start(interval, func(subject string, msg *message.TopTalk) {
				log.WithFields(logrus.Fields{
					"subject":  subject,
					"tflows":   msg.TotalFlows,
					"tbytes":   msg.TotalBytes,
					"tpackets": msg.TotalPackets,
				}).Info("received top talkers")
				for rank, f := range msg.Flows {
					log.WithFields(logrus.Fields{
						"rank":    rank + 1,
						"src":     f.Src,
						"sport":   f.SrcPort,
						"dst":     f.Dst,
						"dport":   f.DstPort,
						"proto":   f.Proto,
						"bytes":   f.Bytes,
						"packets": f.Packets,
					}).Info("flow")
				}
			})
			if err != nil {
				return err
			}

			<-ctx.Done()
			log.Info("shutdown signal received, cleaning up")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Only print messages of this interval, e.g. 100ms")
	return cmd
}
