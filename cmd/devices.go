package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/smazurov/videonode/internal/devices"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command: a standalone way to list
// V4L2 capture devices without starting the HTTP server, useful for
// scripting and for diagnosing a device enumeration problem in isolation.
func CreateDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long:  `Enumerates video capture devices visible to this host and prints them as JSON.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			detector := devices.NewDetector()
			found, err := detector.FindDevices()
			if err != nil {
				return fmt.Errorf("list devices: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(found)
		},
	}
	return cmd
}
