package cmd

import (
	"fmt"

	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	flagMonitorRole string
	flagMonitorMic  string
)

var monitorCmd = &cobra.Command{
	Use:     "monitor <exam-id>",
	Aliases: []string{"m"},
	Short:   "Watch the students of an exam",
	Long: `Join an exam room as a proctor. Every student's camera and microphone is
received, raised hands are listed, and private chat and voice are available
per student.

Examples:
  examina monitor EXAM-2024-CS101
  examina monitor EXAM-2024-CS101 --role admin --name "Dr. Perera"
  examina monitor EXAM-2024-CS101 --codec msgpack --relay-only`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := signaling.Role(flagMonitorRole)
		if !role.Proctor() {
			return fmt.Errorf("role must be admin or lecturer, got %q", flagMonitorRole)
		}
		return RunRoom(cmd.Context(), RoomRequest{
			ExamID:        args[0],
			Role:          role,
			AudioDeviceID: flagMonitorMic,
			View: func(s *session.Session, _ *media.Acquirer) (tea.Model, error) {
				return ui.NewMonitor(s), nil
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&flagMonitorRole, "role", string(signaling.RoleLecturer), "Proctor role: admin or lecturer")
	monitorCmd.Flags().StringVar(&flagMonitorMic, "mic", "", "Microphone device id for voice")
}
