package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/AgilWave/examina-proctor/internal/ui"
	"github.com/AgilWave/examina-proctor/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagServer     string
	flagSTUN       string
	flagTURN       string
	flagTURNUser   string
	flagTURNPass   string
	flagRelayOnly  bool
	flagCodec      string
	flagName       string
	flagExternalID string
	flagLogLevel   string
	flagLogFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "examina",
	Short: "Live exam proctoring over WebRTC",
	Long: `Examina connects students and proctors of an online exam. Students publish
their camera and microphone to every proctor in the room, proctors watch the
roster, answer raised hands over private chat and open a voice channel to a
student when needed. A development signaling relay is included.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagServer, "server", "", "Signaling relay websocket URL")
	pf.StringVarP(&flagSTUN, "stun", "s", "", "Custom STUN server")
	pf.StringVarP(&flagTURN, "turn", "t", "", "Custom TURN server")
	pf.StringVar(&flagTURNUser, "turn-user", "", "TURN username")
	pf.StringVar(&flagTURNPass, "turn-pass", "", "TURN password")
	pf.BoolVarP(&flagRelayOnly, "relay-only", "r", false, "Force TURN relay for media")
	pf.StringVar(&flagCodec, "codec", "", "Signaling wire format: json or msgpack")
	pf.StringVarP(&flagName, "name", "n", "", "Display name announced to the room")
	pf.StringVar(&flagExternalID, "external-id", "", "Student or staff number")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFile, "log-file", "", "Write logs to this file")
}
