package cmd

import (
	"fmt"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/media/pionmedia"
	"github.com/AgilWave/examina-proctor/internal/ui"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"d"},
	Short:   "List cameras and microphones",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devices, err := pionmedia.New()
		if err != nil {
			return fmt.Errorf("open capture drivers: %w", err)
		}
		list, err := media.NewAcquirer(devices, nil).ListDevices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		fmt.Println()
		fmt.Println(ui.DeviceTable(list))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
