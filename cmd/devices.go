package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sensorstream/internal/sensor"
)

func newDevicesCmd(_ *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "利用可能なV4L2デバイスを一覧表示する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return listDevices(cmd, sensor.NewLinuxDiscovery())
		},
	}
}

func listDevices(cmd *cobra.Command, discovery sensor.Discovery) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(devices) == 0 {
		fmt.Fprintln(out, "デバイスが見つかりませんでした")
		return nil
	}

	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			fmt.Fprintf(out, "%s\t(情報の取得に失敗: %v)\n", device, err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", info.Device, info.Name, info.Driver)
	}
	return nil
}
