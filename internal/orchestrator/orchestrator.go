// Package orchestrator runs the push-to-talk conversation loop.
//
// One turn is: wait for the trigger, capture a fixed-length clip, check
// memory, transcribe, ask the dialogue client for a reply, print it and
// optionally speak it. Turns never overlap. Per-turn failures are reported
// on the console and in the log and the loop re-arms; only memory
// exhaustion below the smallest model's floor ends [Orchestrator.Run] with
// an error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/stt"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Console lines shown to the user.
const (
	NoReply        = "(応答なし)"
	msgRecording   = "録音中... %.1f 秒（Ctrl+Cで中断）\n"
	msgNoSpeech    = "音声が認識できませんでした。もう一度お試しください。"
	msgUserLine    = "あなた: %s\n"
	msgReplyLine   = "アシスタント: %s\n"
	msgDeviceError = "⚠ 録音に失敗しました: %v\n"
	msgSTTError    = "⚠ 音声認識に失敗しました: %v\n"
	msgLowMemory   = "⚠ 空きメモリが少なくなっています (%d MB)\n"
)

// DefaultCapture is the clip length used when Config.Capture is zero.
const DefaultCapture = 8 * time.Second

const defaultMeterInterval = 200 * time.Millisecond

// Recognizer transcribes captured audio. [*recognition.Session] satisfies it.
type Recognizer interface {
	Transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error)
	Tier() (stt.Tier, bool)
	LoadWithFallback(ctx context.Context, tier stt.Tier) (stt.Tier, error)
}

// Responder produces a reply. [*dialogue.Client] satisfies it.
type Responder interface {
	Complete(ctx context.Context, userText, systemPrompt string) (string, error)
}

// Speaker voices a reply. [*synthesis.Router] satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text string, voice tts.Voice, params tts.Params) bool
}

// MemorySampler reads system memory. [*memgov.Governor] satisfies it.
type MemorySampler interface {
	Sample() memgov.Snapshot
	ShouldWarn(memgov.Snapshot) bool
}

// Config wires an [Orchestrator]. Device, Recognizer, Responder and Trigger
// are required.
type Config struct {
	Device     audio.Device
	Recognizer Recognizer
	Responder  Responder
	Trigger    Trigger

	// Speaker is used only when SpeechEnabled is set.
	Speaker       Speaker
	SpeechEnabled bool

	// Memory is sampled before every recognition. Nil disables the check.
	Memory MemorySampler

	// AdaptiveTier downgrades the resident model to the recommended tier
	// whenever memory allows less than what is loaded.
	AdaptiveTier bool

	// Capture is the clip length. Zero means DefaultCapture.
	Capture time.Duration

	// Settings are the initial per-turn settings.
	Settings Settings

	// Out receives conversation lines. Defaults to os.Stdout.
	Out io.Writer

	// MeterInterval is the redraw period of the capture meter. Zero means
	// 200ms; negative disables the meter.
	MeterInterval time.Duration

	Metrics *observe.Metrics
}

// Turn is the record of one finished turn.
type Turn struct {
	Transcript string
	Reply      string
	Spoken     bool
	// Outcome is one of the observe.Outcome* values.
	Outcome  string
	Err      error
	Duration time.Duration
}

// Stats counts turns by outcome since the orchestrator was created.
type Stats struct {
	Turns    int
	Outcomes map[string]int
}

// Orchestrator owns the conversation loop. Run must not be called
// concurrently with itself or RunTurn; Settings, SetSettings and Stats are
// safe from any goroutine.
type Orchestrator struct {
	device     audio.Device
	recognizer Recognizer
	responder  Responder
	speaker    Speaker
	trigger    Trigger
	memory     MemorySampler

	speech        bool
	adaptive      bool
	capture       time.Duration
	meterInterval time.Duration
	out           io.Writer
	metrics       *observe.Metrics

	settings atomic.Pointer[Settings]

	statsMu sync.Mutex
	stats   Stats
}

// New validates cfg and returns an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	var errs []error
	if cfg.Device == nil {
		errs = append(errs, errors.New("device is required"))
	}
	if cfg.Recognizer == nil {
		errs = append(errs, errors.New("recognizer is required"))
	}
	if cfg.Responder == nil {
		errs = append(errs, errors.New("responder is required"))
	}
	if cfg.Trigger == nil {
		errs = append(errs, errors.New("trigger is required"))
	}
	if cfg.SpeechEnabled && cfg.Speaker == nil {
		errs = append(errs, errors.New("speaker is required when speech is enabled"))
	}
	if cfg.Capture < 0 {
		errs = append(errs, fmt.Errorf("capture duration %s is negative", cfg.Capture))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	o := &Orchestrator{
		device:        cfg.Device,
		recognizer:    cfg.Recognizer,
		responder:     cfg.Responder,
		speaker:       cfg.Speaker,
		trigger:       cfg.Trigger,
		memory:        cfg.Memory,
		speech:        cfg.SpeechEnabled,
		adaptive:      cfg.AdaptiveTier,
		capture:       cfg.Capture,
		meterInterval: cfg.MeterInterval,
		out:           cfg.Out,
		metrics:       cfg.Metrics,
		stats:         Stats{Outcomes: make(map[string]int)},
	}
	if o.capture == 0 {
		o.capture = DefaultCapture
	}
	if o.meterInterval == 0 {
		o.meterInterval = defaultMeterInterval
	}
	if o.out == nil {
		o.out = os.Stdout
	}
	o.SetSettings(cfg.Settings)
	return o, nil
}

// Run waits for the trigger and runs one turn per trigger until ctx is
// cancelled or the trigger reports io.EOF; both return nil. A non-nil error
// is fatal, e.g. a *[ResourceExhaustionError].
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		if err := o.trigger.Wait(ctx); err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("orchestrator: wait for trigger: %w", err)
		}
		if _, err := o.RunTurn(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// RunTurn runs a single turn. Steps are executed on a context that is not
// cancelled with ctx, so a started capture or network call always finishes;
// ctx is checked between steps. The error is non-nil only for fatal
// conditions.
func (o *Orchestrator) RunTurn(ctx context.Context) (Turn, error) {
	settings := o.Settings()
	start := time.Now()

	stepCtx, span := observe.StartSpan(context.WithoutCancel(ctx), "turn")
	defer span.End()
	log := observe.Logger(stepCtx)

	turn := Turn{}
	finish := func(outcome string, err error) Turn {
		turn.Outcome = outcome
		turn.Err = err
		turn.Duration = time.Since(start)
		o.record(stepCtx, outcome)
		log.Info("turn finished", "outcome", outcome, "duration", turn.Duration, "err", err)
		return turn
	}

	// Capturing.
	buf, err := o.captureClip(stepCtx)
	if err != nil {
		fmt.Fprintf(o.out, msgDeviceError, err)
		return finish(observe.OutcomeDeviceError, err), nil
	}
	if ctx.Err() != nil {
		return finish(observe.OutcomeCancelled, ctx.Err()), nil
	}

	// Recognizing.
	if err := o.checkMemory(stepCtx); err != nil {
		return finish(observe.OutcomeFatal, err), err
	}
	text, err := o.transcribe(stepCtx, buf, settings.Language)
	if err != nil {
		fmt.Fprintf(o.out, msgSTTError, err)
		return finish(observe.OutcomeSTTError, err), nil
	}
	turn.Transcript = text
	if text == "" {
		fmt.Fprintln(o.out, msgNoSpeech)
		return finish(observe.OutcomeSilent, nil), nil
	}
	if ctx.Err() != nil {
		return finish(observe.OutcomeCancelled, ctx.Err()), nil
	}

	// Responding.
	fmt.Fprintf(o.out, msgUserLine, text)
	reply, err := o.respond(stepCtx, text, settings.SystemPrompt)
	if err != nil {
		log.Warn("orchestrator: no reply", "err", err)
		fmt.Fprintf(o.out, msgReplyLine, NoReply)
		return finish(observe.OutcomeLLMError, err), nil
	}
	if reply == "" {
		fmt.Fprintf(o.out, msgReplyLine, NoReply)
		return finish(observe.OutcomeEmptyReply, nil), nil
	}
	turn.Reply = reply
	fmt.Fprintf(o.out, msgReplyLine, reply)
	if !o.speech || ctx.Err() != nil {
		return finish(observe.OutcomeReplied, nil), nil
	}

	// Speaking.
	spanCtx, end := observe.StartStage(stepCtx, "tts")
	turn.Spoken = o.speaker.Speak(spanCtx, reply, settings.Voice, settings.Params)
	end(nil)
	if !turn.Spoken {
		return finish(observe.OutcomeReplied, nil), nil
	}
	return finish(observe.OutcomeSpoken, nil), nil
}

// Stats returns a copy of the outcome counters.
func (o *Orchestrator) Stats() Stats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	out := Stats{Turns: o.stats.Turns, Outcomes: make(map[string]int, len(o.stats.Outcomes))}
	for k, v := range o.stats.Outcomes {
		out.Outcomes[k] = v
	}
	return out
}

func (o *Orchestrator) record(ctx context.Context, outcome string) {
	o.statsMu.Lock()
	o.stats.Turns++
	o.stats.Outcomes[outcome]++
	o.statsMu.Unlock()
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, outcome)
	}
}

func (o *Orchestrator) captureClip(ctx context.Context) (audio.Buffer, error) {
	ctx, end := observe.StartStage(ctx, "capture")
	start := time.Now()
	fmt.Fprintf(o.out, msgRecording, o.capture.Seconds())

	var level audio.Level
	var m *meter
	if o.meterInterval > 0 {
		m = startMeter(o.out, &level, o.capture, o.meterInterval)
	}
	buf, err := o.device.Capture(ctx, o.capture, &level)
	if m != nil {
		m.stop()
	}
	if o.metrics != nil {
		observe.Since(ctx, o.metrics.CaptureDuration, start)
	}

	switch {
	case err != nil:
		err = &DeviceError{Op: "capture", Err: err}
	case buf.Empty():
		err = &DeviceError{Op: "capture", Err: audio.ErrNoAudio}
	}
	end(err)
	if err != nil {
		observe.Logger(ctx).Error("orchestrator: capture failed", "err", err)
	}
	return buf, err
}

// checkMemory applies the memory policy before a recognition. It returns a
// *ResourceExhaustionError when memory is below the smallest tier's floor
// and a one-step downgrade did not help.
func (o *Orchestrator) checkMemory(ctx context.Context) error {
	if o.memory == nil {
		return nil
	}
	log := observe.Logger(ctx)
	snap := o.memory.Sample()
	if !snap.Known() {
		return nil
	}
	if o.metrics != nil {
		o.metrics.MemoryAvailable.Record(ctx, int64(snap.AvailableMB))
	}
	if o.memory.ShouldWarn(snap) {
		log.Warn("orchestrator: low memory", "available_mb", snap.AvailableMB, "used_percent", snap.UsedPercent)
		fmt.Fprintf(o.out, msgLowMemory, snap.AvailableMB)
	}

	current, loaded := o.recognizer.Tier()
	recommended, err := memgov.RecommendTier(snap)
	if err != nil {
		smaller, ok := current.Smaller()
		if !loaded || !ok {
			return &ResourceExhaustionError{Tier: current, Snapshot: snap, Err: err}
		}
		log.Warn("orchestrator: memory below floor, stepping model down", "from", current, "to", smaller,
			"available_mb", snap.AvailableMB)
		if _, lerr := o.recognizer.LoadWithFallback(ctx, smaller); lerr != nil {
			return &ResourceExhaustionError{Tier: current, Snapshot: snap, Err: errors.Join(err, lerr)}
		}
		return nil
	}

	if o.adaptive && loaded && current > recommended {
		log.Info("orchestrator: downgrading model to fit memory", "from", current, "to", recommended,
			"available_mb", snap.AvailableMB)
		if _, lerr := o.recognizer.LoadWithFallback(ctx, recommended); lerr != nil {
			if _, still := o.recognizer.Tier(); !still {
				return &ResourceExhaustionError{Tier: current, Snapshot: snap, Err: lerr}
			}
			log.Warn("orchestrator: downgrade failed, keeping current model", "err", lerr)
		}
	}
	return nil
}

func (o *Orchestrator) transcribe(ctx context.Context, buf audio.Buffer, language string) (string, error) {
	tier, _ := o.recognizer.Tier()
	ctx, end := observe.StartStage(ctx, "stt", observe.Attr("tier", tier.String()), observe.Attr("language", language))
	start := time.Now()
	text, err := o.recognizer.Transcribe(ctx, buf, language)
	if o.metrics != nil {
		observe.Since(ctx, o.metrics.STTDuration, start)
	}
	end(err)
	if err != nil {
		observe.Logger(ctx).Error("orchestrator: transcription failed", "tier", tier, "err", err)
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (o *Orchestrator) respond(ctx context.Context, text, systemPrompt string) (string, error) {
	ctx, end := observe.StartStage(ctx, "llm")
	reply, err := o.responder.Complete(ctx, text, systemPrompt)
	end(err)
	return strings.TrimSpace(reply), err
}
