package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AgilWave/examina-proctor/internal/config"
	"github.com/AgilWave/examina-proctor/internal/logging"
	"github.com/AgilWave/examina-proctor/internal/media"
	"github.com/AgilWave/examina-proctor/internal/media/pionmedia"
	"github.com/AgilWave/examina-proctor/internal/rtc"
	"github.com/AgilWave/examina-proctor/internal/session"
	"github.com/AgilWave/examina-proctor/internal/signaling"
	"github.com/AgilWave/examina-proctor/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
)

// RoomRequest describes one join.
type RoomRequest struct {
	ExamID        string
	Role          signaling.Role
	VideoDeviceID string
	AudioDeviceID string
	// View builds the live model once the session exists.
	View func(s *session.Session, acq *media.Acquirer) (tea.Model, error)
}

// ConnectionContext holds what a joined room needs and releases it on Close.
type ConnectionContext struct {
	Config  *config.Config
	Logger  *slog.Logger
	Client  *signaling.Client
	Factory *rtc.Factory
	Media   *media.Acquirer

	closeLog func() error
}

func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ServerURL:   flagServer,
		STUNServer:  flagSTUN,
		TURNServer:  flagTURN,
		TURNUser:    flagTURNUser,
		TURNPass:    flagTURNPass,
		ForceRelay:  flagRelayOnly,
		Codec:       flagCodec,
		DisplayName: flagName,
		ExternalID:  flagExternalID,
	})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.ForceRelay && cfg.GetTURNServers() == nil {
		return nil, errors.New("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// NewConnectionContext loads config, opens capture devices, builds the peer
// factory and connects to the relay.
func NewConnectionContext(ctx context.Context) (*ConnectionContext, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := logging.Init(logging.Options{Level: flagLogLevel, File: flagLogFile})
	if err != nil {
		return nil, err
	}
	c := &ConnectionContext{Config: cfg, Logger: logger, closeLog: closeLog}

	var factoryOpts []rtc.FactoryOption
	factoryOpts = append(factoryOpts, rtc.WithLogger(logger))
	devices, err := pionmedia.New()
	if err != nil {
		// The session runs without local media.
		ui.PrintWarningf("Capture devices unavailable: %v", err)
	} else {
		factoryOpts = append(factoryOpts, rtc.WithMediaEngine(devices.ConfigureMediaEngine))
		c.Media = media.NewAcquirer(devices, logger)
	}

	c.Factory, err = rtc.NewFactory(rtc.ICEConfiguration(cfg), factoryOpts...)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create peer factory: %w", err)
	}

	codec, err := signaling.NewCodec(cfg.Codec)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Client = signaling.NewClient(cfg.ServerURL, codec, signaling.WithLogger(logger))

	fmt.Println()
	err = ui.Spin(ctx, "Connecting to server...", "Connected to "+cfg.ServerURL, c.Client.Connect)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("connect to server: %w", err)
	}
	return c, nil
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
	if c.closeLog != nil {
		c.closeLog()
	}
}

// RunRoom joins an exam room, runs the live view until the user quits or the
// relay goes away, then prints a summary.
func RunRoom(ctx context.Context, req RoomRequest) error {
	conn, err := NewConnectionContext(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	s, err := session.New(session.Options{
		ExamID:              req.ExamID,
		Role:                req.Role,
		ExternalID:          conn.Config.ExternalID,
		DisplayName:         conn.Config.DisplayName,
		Channel:             conn.Client,
		Factory:             conn.Factory,
		Media:               conn.Media,
		VideoDeviceID:       req.VideoDeviceID,
		AudioDeviceID:       req.AudioDeviceID,
		StatusTTL:           conn.Config.StatusTTL,
		VoiceRequestTimeout: conn.Config.VoiceRequestTimeout,
		Logger:              conn.Logger,
	})
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	model, err := req.View(s, conn.Media)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	started := time.Now()
	go func() { runErr <- s.Run(runCtx) }()
	go func() {
		select {
		case <-conn.Client.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(runCtx))
	_, uiErr := p.Run()

	summary := summarize(s, req, time.Since(started))
	cancel()
	err = <-runErr
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	select {
	case <-conn.Client.Done():
		ui.PrintWarning("Signaling connection closed")
	default:
	}
	if summary != nil {
		fmt.Println()
		ui.RenderSessionSummary(os.Stdout, *summary)
	}
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return uiErr
	}
	return err
}

// summarize reads the final view while the session is still running.
func summarize(s *session.Session, req RoomRequest, d time.Duration) *ui.SessionSummary {
	v, err := s.Snapshot()
	if err != nil {
		return nil
	}
	sum := &ui.SessionSummary{
		ExamID:       req.ExamID,
		Role:         string(req.Role),
		Duration:     d,
		Participants: v.Participants,
	}
	for _, p := range v.Participants {
		if in, err := s.Inbox(p.ID); err == nil {
			sum.Messages += len(in.Records)
		}
	}
	return sum
}
