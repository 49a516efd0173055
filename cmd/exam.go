package cmd

import (
	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var (
	flagExamCamera string
	flagExamMic    string
)

var examCmd = &cobra.Command{
	Use:     "exam <exam-id>",
	Aliases: []string{"e"},
	Short:   "Sit an exam under proctoring",
	Long: `Join an exam room as a student. The camera and microphone are published to
every proctor in the room. Press h to raise a hand and d to switch camera.

Examples:
  examina exam EXAM-2024-CS101 --name "Nimal Silva" --external-id IT21001
  examina exam EXAM-2024-CS101 --camera /dev/video2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return RunRoom(cmd.Context(), RoomRequest{
			ExamID:        args[0],
			Role:          signaling.RoleStudent,
			VideoDeviceID: flagExamCamera,
			AudioDeviceID: flagExamMic,
			View: func(s *session.Session, acq *media.Acquirer) (tea.Model, error) {
				var cameras []media.Device
				if acq != nil {
					devices, err := acq.ListDevices()
					if err != nil {
						ui.PrintWarningf("Could not list cameras: %v", err)
					}
					for _, d := range devices {
						if d.Kind == media.VideoInput {
							cameras = append(cameras, d)
						}
					}
				}
				return ui.NewExam(s, cameras, flagExamCamera, flagExamMic), nil
			},
		})
	},
}

func init() {
	rootCmd.AddCommand(examCmd)

	examCmd.Flags().StringVarP(&flagExamCamera, "camera", "c", "", "Camera device id")
	examCmd.Flags().StringVarP(&flagExamMic, "mic", "m", "", "Microphone device id")
}
