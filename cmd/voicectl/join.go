package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dkeye/meshvoice/internal/adapters/capture"
	"github.com/dkeye/meshvoice/internal/adapters/console"
	"github.com/dkeye/meshvoice/internal/adapters/rtc"
	"github.com/dkeye/meshvoice/internal/adapters/ws"
	"github.com/dkeye/meshvoice/internal/app/session"
	"github.com/dkeye/meshvoice/internal/config"
	"github.com/dkeye/meshvoice/internal/core"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagName        string
	flagToken       string
	flagVoice       bool
	flagCaptureFile string
	flagPlaybackDir string
	flagLoopback    bool
	flagMetricsAddr string
)

var joinCmd = &cobra.Command{
	Use:   "join <room>",
	Short: "Join a room and chat or talk from the terminal",
	Long: `Join a room. Lines typed on stdin are sent as chat messages, except:

  /voice   join voice
  /leave   leave voice
  /mute    toggle mute
  /who     show who is here
  /quit    leave the room`,
	Example: `  voicectl join lobby --name Alice
  voicectl join lobby --name Bob --voice --capture-file greeting.ogg --playback-dir ./heard`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		room, err := domain.ParseRoomID(args[0])
		if err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg, room, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	joinCmd.Flags().StringVar(&flagName, "name", "", "display name")
	joinCmd.Flags().StringVar(&flagToken, "token", "", "relay token (minted from the config secret when empty)")
	joinCmd.Flags().BoolVar(&flagVoice, "voice", false, "join voice right after connecting")
	joinCmd.Flags().StringVar(&flagCaptureFile, "capture-file", "", "Ogg/Opus file to send instead of silence")
	joinCmd.Flags().StringVar(&flagPlaybackDir, "playback-dir", "", "record remote audio as Ogg files in this directory")
	joinCmd.Flags().BoolVar(&flagLoopback, "loopback", false, "offer loopback ICE candidates, for peers on the same host")
	joinCmd.Flags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve client metrics on this address")
	_ = joinCmd.MarkFlagRequired("name")
}

func runJoin(parent context.Context, cfg *config.Config, room domain.RoomID, in io.Reader, out io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	token := flagToken
	if token == "" && cfg.Secret != "" {
		t, err := mintToken(cfg.Secret, flagName, 24*time.Hour)
		if err != nil {
			return err
		}
		token = t
	}
	if _, err := ws.SignalURL(cfg.ServerURL, room, token); err != nil {
		return err
	}

	if flagCaptureFile != "" {
		cfg.Capture = config.Capture{Source: capture.SourceOgg, File: flagCaptureFile}
	}
	if flagPlaybackDir != "" {
		cfg.Playback.Dir = flagPlaybackDir
	}
	if cfg.Playback.Dir != "" {
		if err := os.MkdirAll(cfg.Playback.Dir, 0o755); err != nil {
			return fmt.Errorf("playback dir: %w", err)
		}
	}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("meshvoice_client", reg)
	if flagMetricsAddr != "" {
		go serveMetrics(ctx, flagMetricsAddr, reg)
	}

	factory, err := rtc.NewFactory(rtc.FactoryOptions{
		ICE: rtc.ICEConfig{
			STUN:     cfg.ICE.STUN,
			TURN:     cfg.ICE.TURN,
			TURNUser: cfg.ICE.TURNUser,
			TURNPass: cfg.ICE.TURNPass,
		},
		Playback:        rtc.NewPlayback(cfg.Playback.Dir),
		IncludeLoopback: flagLoopback,
	})
	if err != nil {
		return err
	}
	provider, err := capture.NewProvider(capture.Options{Source: cfg.Capture.Source, File: cfg.Capture.File})
	if err != nil {
		return err
	}

	printer := console.NewPrinter(out)
	var (
		sess      *session.Session
		autoVoice = flagVoice
	)
	listener := func(u session.Update) {
		printer.Listen(u)
		// Voice can only be joined on an open channel.
		if autoVoice && u.Kind == session.UpdateStatus && u.Status == core.StatusOpen {
			autoVoice = false
			sess.JoinVoice()
		}
	}
	sess, err = session.New(session.Options{
		Room: room,
		Name: flagName,
		Dial: func(h core.ChannelHandler) core.ControlChannel {
			c, err := ws.Dial(ws.Options{
				ServerURL: cfg.ServerURL,
				Room:      room,
				Token:     token,
				Reconnect: ws.ReconnectPolicy{
					Interval:    cfg.Reconnect.Interval,
					MaxAttempts: cfg.Reconnect.MaxAttempts,
				},
				PingPeriod: cfg.PingPeriod,
				Metrics:    metrics,
			}, h)
			if err != nil {
				// SignalURL accepted the same inputs above.
				log.Fatal().Err(err).Msg("dial")
			}
			return c
		},
		Negotiators:        factory,
		Capture:            provider,
		NegotiationTimeout: cfg.NegotiationTimeout,
		Listener:           listener,
		Metrics:            metrics,
	})
	if err != nil {
		return err
	}

	go func() {
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("room session stopped")
		}
	}()

	go readCommands(in, sess, printer)
	<-sess.Done()
	return nil
}

// readCommands feeds stdin lines to the session until /quit or EOF.
func readCommands(in io.Reader, sess *session.Session, printer *console.Printer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		cmd, text := parseLine(sc.Text())
		switch cmd {
		case cmdNone:
		case cmdVoice:
			sess.JoinVoice()
		case cmdLeave:
			sess.LeaveVoice()
		case cmdMute:
			sess.ToggleMute()
		case cmdWho:
			snap, err := sess.Snapshot()
			if err != nil {
				return
			}
			printer.Who(snap)
		case cmdQuit:
			sess.Close()
			return
		case cmdChat:
			if err := sess.SendChat(text); err != nil {
				printer.Listen(session.Update{Kind: session.UpdateNotice, Notice: session.Notice{Level: session.NoticeError, Text: err.Error(), Err: err}})
			}
		case cmdUnknown:
			printer.Listen(session.Update{Kind: session.UpdateNotice, Notice: session.Notice{Level: session.NoticeInfo, Text: "unknown command " + text}})
		}
	}
	sess.Close()
}

type command int

const (
	cmdNone command = iota
	cmdChat
	cmdVoice
	cmdLeave
	cmdMute
	cmdWho
	cmdQuit
	cmdUnknown
)

func parseLine(line string) (command, string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return cmdNone, ""
	}
	if !strings.HasPrefix(line, "/") {
		return cmdChat, line
	}
	switch word := strings.Fields(line)[0]; word {
	case "/voice", "/join":
		return cmdVoice, ""
	case "/leave":
		return cmdLeave, ""
	case "/mute", "/unmute":
		return cmdMute, ""
	case "/who":
		return cmdWho, ""
	case "/quit", "/exit":
		return cmdQuit, ""
	default:
		return cmdUnknown, word
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	srv := &http.Server{Addr: addr, Handler: observability.MetricsHandler(reg), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server")
	}
}
