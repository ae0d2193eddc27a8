package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"Go2TopTalk/internal/api"
	"Go2TopTalk/internal/model"
)

func newTopCommand() *cobra.Command {
	var (
		addr     string
		n        uint32
		interval string
		restart  string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "top",
		Short: "Query a running toptalk over gRPC",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			client := api.NewClient(conn)

			var resp proto.Message
			switch {
			case restart != "":
				if err := client.RestartCapture(ctx, restart); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "capture restarted on %s\n", restart)
				return nil
			case interval != "":
				resp, err = client.Interval(ctx, interval)
			default:
				resp, err = client.TopN(ctx, n)
			}
			if err != nil {
				return err
			}
			data, err := protojson.MarshalOptions{Multiline: true}.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "gRPC address of the toptalk server")
	cmd.Flags().Uint32VarP(&n, "count", "n", model.MaxFlows, "Number of flows to rank")
	cmd.Flags().StringVar(&interval, "interval", "", "Show the latest message of one interval, e.g. 5ms")
	cmd.Flags().StringVar(&restart, "restart", "", "Restart capture on this interface")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}
