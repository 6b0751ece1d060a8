package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/huddlechat/huddle/internal/call"
	"github.com/huddlechat/huddle/internal/chatlog"
	"github.com/huddlechat/huddle/internal/config"
	"github.com/huddlechat/huddle/internal/directory"
	"github.com/huddlechat/huddle/internal/media"
	"github.com/huddlechat/huddle/internal/signaling"
	"github.com/huddlechat/huddle/internal/simulation"
	"github.com/huddlechat/huddle/internal/ui"
)

var (
	flagVideo    bool
	flagAudio    bool
	flagGroup    bool
	flagHeadless bool
	flagSimulate bool
	flagDropRate float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "huddle",
		Short: "Peer-to-peer video and audio calls in your terminal",
	}

	callCmd := &cobra.Command{
		Use:   "call <conversation>",
		Short: "Start a call in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(args[0], true)
		},
	}
	answerCmd := &cobra.Command{
		Use:   "answer <conversation>",
		Short: "Wait for and answer a call in a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCall(args[0], false)
		},
	}
	for _, c := range []*cobra.Command{callCmd, answerCmd} {
		c.Flags().BoolVar(&flagVideo, "video", true, "capture camera video")
		c.Flags().BoolVar(&flagAudio, "audio", true, "capture microphone audio")
		c.Flags().BoolVar(&flagGroup, "group", false, "group call (full mesh)")
		c.Flags().BoolVar(&flagHeadless, "headless", false, "run without the TUI, log events to stdout")
		c.Flags().BoolVar(&flagSimulate, "simulate", false, "inject signal loss and duplication (soak testing)")
		c.Flags().Float64Var(&flagDropRate, "drop-rate", 0.1, "signal drop rate with --simulate")
	}

	var clearHistory bool
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Show past calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearHistory {
				return chatlog.ClearHistory()
			}
			chatlog.ShowHistory()
			return nil
		},
	}
	historyCmd.Flags().BoolVar(&clearHistory, "clear", false, "delete the call history")

	rootCmd.AddCommand(callCmd, answerCmd, historyCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// coordinatorHandle papers over the direct/group coordinator split so the
// rest of the command wiring is identical for both.
type coordinatorHandle struct {
	events   <-chan call.Event
	controls ui.Controls
	start    func(ctx context.Context) error
	dial     func(ctx context.Context)
	shutdown func()
}

func runCall(conversationID string, outgoing bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.EnsureIdentity(cfg); err != nil {
		return fmt.Errorf("ensure identity: %w", err)
	}

	ctx := context.Background()

	bus, cleanupBus, err := buildBus(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanupBus()

	// Presence: register with the cloud directory when configured, and
	// always announce on the LAN. Both best effort.
	if cfg.DirectoryURL != "" {
		if err := directory.NewClient(cfg.DirectoryURL).Register(ctx, conversationID, cfg.SelfID, cfg.DisplayName); err != nil {
			log.Printf("Warning: directory registration failed: %v", err)
		}
	}
	if stopAnnounce, err := directory.Announce(conversationID, cfg.SelfID, cfg.DisplayName); err != nil {
		log.Printf("Warning: LAN presence unavailable: %v", err)
	} else {
		defer stopAnnounce()
	}

	if outgoing {
		if err := clipboard.WriteAll(conversationID); err != nil {
			log.Printf("Warning: could not copy conversation code: %v", err)
		}
	}

	opts := call.Options{
		Bus:            bus,
		ConversationID: conversationID,
		SelfID:         cfg.SelfID,
		SelfName:       cfg.DisplayName,
		Roster:         directory.NewResolver(cfg.DirectoryURL, cfg.SelfID),
		ChatLog:        chatlog.New(),
		Media:          media.NewSession(nil),
		Video:          flagVideo,
		Audio:          flagAudio,
		TurnAuthURL:    cfg.TurnAuthURL,
		RingTimeout:    time.Duration(cfg.RingTimeoutSec) * time.Second,
	}

	h := newCoordinator(opts, flagGroup)
	if err := h.start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	defer h.shutdown()

	if outgoing {
		h.dial(ctx)
	}

	if flagHeadless {
		return runHeadless(h)
	}

	model := ui.NewModel(conversationID, cfg.DisplayName, h.controls, h.events)
	p := tea.NewProgram(model)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("ui: %w", err)
	}
	return nil
}

func newCoordinator(opts call.Options, group bool) *coordinatorHandle {
	if group {
		g := call.NewGroup(opts)
		return &coordinatorHandle{
			events: g.Events(),
			controls: ui.Controls{
				Accept:   func() { g.Accept(context.Background()) },
				Reject:   g.Reject,
				End:      g.End,
				SetVideo: g.SetVideo,
				SetAudio: g.SetAudio,
			},
			start:    g.Start,
			dial:     g.Dial,
			shutdown: g.Close,
		}
	}
	d := call.NewDirect(opts)
	return &coordinatorHandle{
		events: d.Events(),
		controls: ui.Controls{
			Accept:   d.Accept,
			Reject:   d.Reject,
			End:      d.End,
			SetVideo: d.SetVideo,
			SetAudio: d.SetAudio,
		},
		start:    d.Start,
		dial:     d.Dial,
		shutdown: d.Close,
	}
}

// buildBus picks the production IoT bus, optionally wrapped with simulated
// degradation. Falls back to an in-process bus when signaling is not
// configured, which only makes sense for --simulate experiments.
func buildBus(ctx context.Context, cfg *config.Config) (signaling.Bus, func(), error) {
	var bus signaling.Bus
	cleanup := func() {}

	if cfg.IoTEndpoint != "" {
		iot, err := signaling.NewIoTBus(ctx, signaling.IoTOptions{
			Endpoint:       cfg.IoTEndpoint,
			Region:         cfg.Region,
			IdentityPoolID: cfg.IdentityPoolID,
			ClientID:       cfg.SelfID,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect signal bus: %w", err)
		}
		bus = iot
		cleanup = iot.Disconnect
	} else {
		if !flagSimulate {
			return nil, nil, fmt.Errorf("no signaling configured: set iot_endpoint in the config file")
		}
		log.Printf("SIGNAL: no broker configured, using in-process bus")
		bus = signaling.NewMemoryBus()
	}

	if flagSimulate {
		log.Printf("SIGNAL: simulating degraded network (drop rate %.0f%%)", flagDropRate*100)
		flaky := simulation.NewFlakyBus(bus, flagDropRate, flagDropRate, time.Now().UnixNano())
		flaky.SetLatency(50*time.Millisecond, 100*time.Millisecond)
		bus = flaky
	}
	return bus, cleanup, nil
}

// runHeadless drains coordinator events to the log until the session closes
// or the process is interrupted.
func runHeadless(h *coordinatorHandle) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-sigs:
			h.controls.End()
		case ev, ok := <-h.events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case call.EventStatus:
				log.Printf("status: %s", ev.Status)
			case call.EventIncomingCall:
				log.Printf("%s is calling; accepting", ev.ParticipantName)
				h.controls.Accept()
			case call.EventParticipantJoined:
				log.Printf("joined: %s", ev.ParticipantID)
			case call.EventParticipantLeft:
				log.Printf("left: %s", ev.ParticipantID)
			case call.EventInfo:
				log.Printf("%s", ev.Message)
			case call.EventError:
				log.Printf("error: %v", ev.Err)
			case call.EventClosed:
				return nil
			}
		}
	}
}
