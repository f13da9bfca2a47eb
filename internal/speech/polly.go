// Package speech voices alert messages through Amazon Polly.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Player turns synthesized audio into sound. Play must invoke done exactly
// once; Stop interrupts in-flight playback.
type Player interface {
	Play(audio []byte, done func(err error))
	Stop()
}

// NopPlayer discards audio and completes immediately. Useful headless.
type NopPlayer struct{}

func (NopPlayer) Play(_ []byte, done func(err error)) { done(nil) }
func (NopPlayer) Stop()                               {}

// Config controls the Polly synthesis request.
type Config struct {
	Region  string
	VoiceID string
	Engine  string
	Timeout time.Duration
}

// Speaker synthesizes text with Polly and hands the audio to a Player. One
// utterance is in flight at a time; Speak cancels nothing by itself, Stop
// cancels both synthesis and playback.
type Speaker struct {
	cfg    Config
	log    *zap.Logger
	player Player

	mu     sync.Mutex
	client synthClient
	cancel context.CancelFunc
}

// NewSpeaker constructs a Speaker. A nil client is resolved lazily from the
// default AWS config chain; a nil player falls back to NopPlayer.
func NewSpeaker(cfg Config, client synthClient, player Player, log *zap.Logger) *Speaker {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if player == nil {
		player = NopPlayer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Speaker{cfg: cfg, log: log, player: player, client: client}
}

// Speak synthesizes and plays text asynchronously. done fires exactly once on
// completion, interruption, or error.
func (s *Speaker) Speak(text string, done func(err error)) {
	var once sync.Once
	finish := func(err error) {
		once.Do(func() {
			if done != nil {
				done(err)
			}
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		audio, err := s.synthesize(ctx, text)
		if err != nil {
			finish(err)
			return
		}
		s.player.Play(audio, finish)
	}()
}

// Stop interrupts any in-flight synthesis and playback.
func (s *Speaker) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.player.Stop()
}

func (s *Speaker) synthesize(ctx context.Context, text string) ([]byte, error) {
	client, err := s.resolveClient()
	if err != nil {
		return nil, err
	}

	engine := pollytypes.EngineStandard
	if strings.EqualFold(s.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	output, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(s.cfg.VoiceID),
	})
	if err != nil {
		return nil, normalizeError(err)
	}
	if output == nil || output.AudioStream == nil {
		return nil, errors.New("speech synthesis returned no audio")
	}
	defer output.AudioStream.Close()

	audio, err := io.ReadAll(output.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read audio stream: %w", err)
	}
	return audio, nil
}

func (s *Speaker) resolveClient() (synthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(s.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	s.client = polly.NewFromConfig(awsCfg)
	return s.client, nil
}

func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("speech interrupted: %w", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("speech synthesis timed out: %w", err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException":
			return fmt.Errorf("speech service throttled: %w", err)
		case "InvalidSsmlException", "TextLengthExceededException":
			return fmt.Errorf("speech request rejected: %w", err)
		default:
			return fmt.Errorf("speech service error %s: %w", apiErr.ErrorCode(), err)
		}
	}
	return fmt.Errorf("speech transport error: %w", err)
}
