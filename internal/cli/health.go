package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"Pairline/internal/grpcclient"
	"Pairline/internal/healthservice"
)

func newHealthCmd(v *viper.Viper) *cobra.Command {
	var service string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe the server's gRPC health endpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			address := v.GetString("grpc")
			hc, err := grpcclient.NewHealthClient(address)
			if err != nil {
				return err
			}
			defer hc.Close()

			status, err := hc.Check(cmd.Context(), service)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", address, status)
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("server is %s", status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&service, "service", healthservice.ServiceName, "service name to check, empty for the whole server")
	return cmd
}
