package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"Go2TopTalk/internal/config"
	"Go2TopTalk/internal/engine/manager"
	"Go2TopTalk/internal/logging"
	"Go2TopTalk/internal/message"
	"Go2TopTalk/internal/model"
	"Go2TopTalk/pkg/pcap"
)

func newReplayCommand() *cobra.Command {
	var (
		configPath string
		filter     string
	)
	cmd := &cobra.Command{
		Use:   "replay <file.pcap>",
		Short: "Run a pcap file through the engine and print the final top talkers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				var err error
				if cfg, err = loadConfig(configPath); err != nil {
					return err
				}
			}
			return replay(cmd.Context(), cfg, args[0], filter, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "BPF filter applied to the recorded packets")
	return cmd
}

func replay(ctx context.Context, cfg *config.Config, path, filter string, out io.Writer) error {
	periods, err := cfg.Engine.Periods()
	if err != nil {
		return err
	}
	maxAge, err := cfg.Engine.MaxAge()
	if err != nil {
		return err
	}

	m, err := manager.New(manager.Options{
		Periods:     periods,
		MaxAge:      maxAge,
		OpenSource:  pcap.Factory(filter),
		PacketClock: true,
	})
	if err != nil {
		return err
	}
	defer m.Stop()

	start := time.Now()
	if err := m.RestartCapture(path); err != nil {
		return err
	}
	select {
	case <-m.CaptureDone():
	case <-ctx.Done():
		return ctx.Err()
	}
	logging.WithComponent("replay").WithField("elapsed", time.Since(start)).Info("replay finished")

	top, err := m.TopN(ctx, model.MaxFlows)
	if err != nil {
		return err
	}
	return printTopFlows(out, top, periods)
}

func printTopFlows(out io.Writer, top *model.TopFlows, periods []time.Duration) error {
	fmt.Fprintf(out, "flows=%d bytes=%d packets=%d at %s\n\n",
		top.FlowCount, top.TotalBytes, top.TotalPackets, top.Timestamp.Format(time.RFC3339Nano))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tSRC\tDST\tPROTO\tBYTES\tPACKETS")
	for i, f := range top.Flows {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\n", i+1,
			fmt.Sprintf("%s:%d", f.Flow.SrcAddr, f.Flow.SrcPort),
			fmt.Sprintf("%s:%d", f.Flow.DstAddr, f.Flow.DstPort),
			model.ProtocolName(f.Flow.Protocol), f.Bytes, f.Packets)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INTERVAL\tRANK\tBYTES/S\tPACKETS/S")
	for i, period := range periods {
		msg := message.FromTopFlows(top, i, period)
		for rank, f := range msg.Flows {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", period, rank+1, f.Bytes, f.Packets)
		}
	}
	return tw.Flush()
}
