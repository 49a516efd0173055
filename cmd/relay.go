package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/AgilWave/examina-proctor/internal/logging"
	"github.com/AgilWave/examina-proctor/internal/relay"
	"github.com/AgilWave/examina-proctor/internal/ui"
	"github.com/spf13/cobra"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a development signaling relay",
	Long: `Run an in-memory signaling relay for local testing. Rooms are keyed by
exam id and live only while someone is connected.

Examples:
  examina relay --addr :8080
  examina monitor EXAM-1 --server ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, closeLog, err := logging.Init(logging.Options{Level: flagLogLevel, File: flagLogFile})
		if err != nil {
			return err
		}
		defer closeLog()

		ctx := cmd.Context()
		hub := relay.NewHub(logger)
		go hub.Run(ctx)

		srv := &http.Server{
			Addr:              flagRelayAddr,
			Handler:           relay.NewMux(hub),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			<-ctx.Done()
			shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdown)
		}()

		ui.PrintInfof("Relay listening on %s (ws path /ws)", flagRelayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		ui.PrintSuccess("Relay stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", ":8080", "Listen address")
}
