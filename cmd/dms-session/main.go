package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/tern/realtime-monitor-session/internal/alerting"
	"github.com/tern/realtime-monitor-session/internal/config"
	"github.com/tern/realtime-monitor-session/internal/logging"
	"github.com/tern/realtime-monitor-session/internal/media"
	"github.com/tern/realtime-monitor-session/internal/rtc"
	"github.com/tern/realtime-monitor-session/internal/session"
	"github.com/tern/realtime-monitor-session/internal/speech"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	switch os.Args[1] {
	case "run":
		if err := runSession(); err != nil {
			fmt.Fprintf(os.Stderr, "session failed: %v\n", err)
			os.Exit(1)
		}
	case "catalog":
		printCatalog()
	case "check-config":
		if err := checkConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("dms-session usage:")
	fmt.Println("  dms-session run            start a monitoring session until interrupted")
	fmt.Println("  dms-session catalog        print the built-in alert catalog")
	fmt.Println("  dms-session check-config   validate environment configuration")
}

func runSession() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	level := zapcore.InfoLevel
	if parsed, ok := logging.ParseLevel(cfg.LogLevel); ok {
		level = parsed
	}
	log := logging.New(level)
	defer log.Sync()

	orch, err := rtc.New(
		rtc.Config{SignalingURL: cfg.SignalingURL},
		rtc.Dependencies{
			Logger: log,
			ICE:    rtc.NewICEClient(rtc.ICEClientConfig{Endpoint: cfg.ICEEndpoint}, nil, log),
		},
	)
	if err != nil {
		return err
	}
	defer orch.Close()

	speaker := speech.NewSpeaker(speech.Config{
		Region:  cfg.PollyRegion,
		VoiceID: cfg.PollyVoice,
		Timeout: cfg.SpeechTimeout,
	}, nil, nil, log)

	engine := alerting.NewEngine(alerting.EngineConfig{}, alerting.EngineDependencies{
		Logger:  log,
		Speaker: speaker,
		Haptics: logHaptics{log: log},
	})

	store := session.NewMemoryStore(nil)
	machine, err := session.NewMachine(session.Config{}, session.Dependencies{
		Logger: log,
		Conn:   orch,
		Store:  store,
		Alerts: engine,
	})
	if err != nil {
		return err
	}
	defer machine.Close()

	src, err := media.NewSampleVideoSource("camera", "driver-monitor")
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := machine.Start(ctx, src); err != nil {
		return err
	}
	log.Info("session starting", zap.String("signaling_url", cfg.SignalingURL))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("interrupt received, stopping session")
	if err := machine.Stop(ctx, src); err != nil {
		log.Warn("stop failed", zap.Error(err))
	}
	orch.Cleanup()

	for _, rec := range store.Sessions() {
		duration := time.Duration(0)
		if rec.Ended() {
			duration = rec.EndedAt.Sub(rec.StartedAt).Truncate(time.Second)
		}
		fmt.Printf("session %s client=%s duration=%s metrics=%d\n",
			rec.ID, rec.ClientID, duration, rec.MetricCount)
	}
	return nil
}

func printCatalog() {
	fmt.Println("alert catalog:")
	for _, cfg := range alerting.DefaultCatalog() {
		fmt.Printf("  %-12s priority=%-8s cooldown=%-5s %q\n",
			cfg.ID, cfg.Priority, cfg.Cooldown, cfg.Message)
	}
}

func checkConfig() error {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	fmt.Printf("signaling url:  %s\n", cfg.SignalingURL)
	fmt.Printf("ice endpoint:   %s\n", valueOr(cfg.ICEEndpoint, "(stun fallback)"))
	fmt.Printf("turn api key:   %s\n", valueOr(config.RedactSecret(cfg.TURNAPIKey), "(none)"))
	fmt.Printf("polly region:   %s\n", cfg.PollyRegion)
	fmt.Printf("polly voice:    %s\n", cfg.PollyVoice)
	fmt.Println("config ok")
	return nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// logHaptics stands in for a device vibration motor on headless builds.
type logHaptics struct {
	log *zap.Logger
}

func (h logHaptics) Trigger(kind alerting.HapticKind) {
	h.log.Info("haptic pulse", zap.String("kind", string(kind)))
}
