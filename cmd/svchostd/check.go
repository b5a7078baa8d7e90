package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/svchost/internal/binding"
	"github.com/nupi-ai/svchost/internal/client"
	"github.com/nupi-ai/svchost/internal/settings"
)

const checkTimeout = 5 * time.Second

func newCheckCommand(_ *globalFlags) *cobra.Command {
	var (
		token   string
		service string
	)
	cmd := &cobra.Command{
		Use:   "check <address>",
		Short: "Probe the health service of a running host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := settings.New()
			healthContract := healthpb.Health_ServiceDesc.ServiceName
			ep := settings.ClientEndpoint{Name: args[0], Address: args[0], Contract: healthContract, Kind: binding.ReliableOrderedTCP}
			u, err := ep.URL()
			if err != nil {
				return err
			}
			if u.Scheme == "http" || u.Scheme == "https" {
				ep.Kind = binding.SimpleHTTP
			}
			params, err := m.Resolver().Resolve(ep.Kind, ep.Address)
			if err != nil {
				return err
			}
			params.OpenTimeout = checkTimeout

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*checkTimeout)
			defer cancel()

			conn, err := client.Dial(ctx, ep, params, client.Options{Token: token})
			if err != nil {
				return err
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			return nil
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "bearer token to present")
	cmd.Flags().StringVar(&service, "service", "", "service name to query (empty checks the server)")
	return cmd
}
