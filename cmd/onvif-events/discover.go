package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SridarDhandapani/onvif-events"
)

func newDiscoverCommand() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List the ONVIF cameras answering a WS-Discovery probe",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			v.SetEnvPrefix("ONVIF")
			v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
			v.AutomaticEnv()

			var client *onvif.Client
			if v.GetBool("details") {
				client = onvif.NewClient(v.GetString("user"), v.GetString("pass"))
				client.InsecureTLS = v.GetBool("insecure")
			}
			return discover(cmd.Context(), client, v.GetDuration("timeout"), cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.Duration("timeout", 5*time.Second, "how long to wait for replies")
	flags.Bool("details", false, "query each camera for device information and event support")
	flags.String("user", "", "camera username, used with --details")
	flags.String("pass", "", "camera password, used with --details")
	flags.Bool("insecure", false, "skip TLS certificate verification")

	return cmd
}

// discover probes the network and writes one line per camera. With a
// client, each camera is also asked for its identity and event support.
func discover(ctx context.Context, client *onvif.Client, timeout time.Duration, out io.Writer) error {
	cameras, err := onvif.DiscoverCameras(ctx, &onvif.DiscoveryOptions{Timeout: timeout})
	if err != nil {
		return err
	}

	for i := range cameras {
		camera := &cameras[i]
		line := fmt.Sprintf("%s\t%s", camera.Address, camera.GetDisplayName())

		if client != nil {
			if err := client.GetDeviceInformation(ctx, camera); err != nil {
				fmt.Fprintf(out, "%s\terror: %v\n", line, err)
				continue
			}
			if err := client.GetCapabilities(ctx, camera); err != nil {
				fmt.Fprintf(out, "%s\terror: %v\n", line, err)
				continue
			}
			line = fmt.Sprintf("%s\t%s\tserial=%s\tevents=%t\tpull_point=%t",
				camera.Address, camera.GetDisplayName(), camera.SerialNumber,
				camera.EventsSupport, camera.PullPointSupport)
		}
		fmt.Fprintln(out, line)
	}

	if len(cameras) == 0 {
		fmt.Fprintln(out, "No cameras found")
	}
	return nil
}
