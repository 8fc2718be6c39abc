package speech

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/lipsync"
	"github.com/normanking/speechsync/internal/telemetry"
	"github.com/normanking/speechsync/internal/tts"
	"github.com/rs/zerolog"
)

// Dependencies are the collaborators a Driver owns. Bus and Metrics may be nil.
// Events are delivered in order and the driver waits for bus handlers, so a
// handler must not wait on the frame goroutine.
type Dependencies struct {
	Engine  lipsync.Engine
	Fetcher tts.Fetcher
	Output  AudioOutput
	Targets TargetCatalog
	Bus     *bus.EventBus
	Metrics *telemetry.Metrics
}

// completion is posted by a fetch chain when both requests finished or one failed.
type completion struct {
	generation uint64
	utterance  tts.Utterance
	audio      []byte
	timing     []byte
	err        error
}

// Driver runs the speak/stop state machine and the per-frame sampler.
//
// Every method except Close must be called from the goroutine that calls
// Update. Fetches run on their own goroutines and hand results back through
// a channel that Update drains; a result applies only if its generation is
// still current.
type Driver struct {
	config  Config
	engine  lipsync.Engine
	fetcher tts.Fetcher
	output  AudioOutput
	targets TargetCatalog
	bus     *bus.EventBus
	metrics *telemetry.Metrics
	logger  zerolog.Logger

	state      State
	generation uint64
	current    tts.Utterance
	superseded uint64
	onOutcome  func(Outcome)

	visemes   []string
	targetIdx []int // -1 for names without a target
	weights   []float32
	missing   []string

	results chan completion
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewDriver resolves every viseme the engine tracks against targets and
// returns an idle driver. Missing targets are logged once here and skipped on
// every frame after.
func NewDriver(config *Config, deps Dependencies, logger zerolog.Logger) (*Driver, error) {
	if deps.Engine == nil || deps.Fetcher == nil || deps.Output == nil || deps.Targets == nil {
		return nil, errors.New("speech: engine, fetcher, output and targets are required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		config:  *config,
		engine:  deps.Engine,
		fetcher: deps.Fetcher,
		output:  deps.Output,
		targets: deps.Targets,
		bus:     deps.Bus,
		metrics: deps.Metrics,
		logger:  logger.With().Str("component", "speech").Logger(),
		state:   StateIdle,
		results: make(chan completion, 16),
		ctx:     ctx,
		cancel:  cancel,
	}
	d.resolveTargets()
	return d, nil
}

func (d *Driver) resolveTargets() {
	d.visemes = d.engine.Visemes()
	d.targetIdx = make([]int, len(d.visemes))
	d.weights = make([]float32, len(d.visemes))

	for i, name := range d.visemes {
		idx, ok := d.targets.ResolveIndex(name)
		if !ok {
			d.targetIdx[i] = -1
			d.missing = append(d.missing, name)
			d.logger.Warn().Err(&MissingTargetError{Name: name}).Msg("Viseme will not be animated")
			d.bus.PublishSync(bus.NewEvent(bus.EventTypeMissingTarget, map[string]any{"name": name}))
			continue
		}
		d.targetIdx[i] = idx
	}

	d.logger.Info().
		Int("visemes", len(d.visemes)).
		Int("missing", len(d.missing)).
		Msg("Animation targets resolved")
}

// Speak starts an utterance with the configured voice.
func (d *Driver) Speak(text string) (uint64, error) {
	return d.SpeakWith(text, d.config.Voice)
}

// SpeakWith supersedes whatever is requesting or playing and starts a new
// fetch chain. It returns the chain's generation.
func (d *Driver) SpeakWith(text string, voice tts.Voice) (uint64, error) {
	if d.ctx.Err() != nil {
		return 0, ErrClosed
	}
	if strings.TrimSpace(text) == "" {
		return 0, ErrEmptyText
	}

	if d.state != StateIdle {
		d.halt()
	}

	d.generation++
	u := tts.NewUtterance(text, voice, d.config.ExtraParams)
	d.current = u
	d.setState(StateRequesting)

	d.metrics.Request()
	d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechRequested, map[string]any{
		"generation": d.generation,
		"utterance":  u.ID,
		"text":       text,
		"voice":      voice.Name,
	}))
	d.logger.Info().
		Uint64("generation", d.generation).
		Str("utterance", u.ID).
		Str("voice", voice.Name).
		Msg("Speak requested")

	go d.fetch(d.generation, u)
	return d.generation, nil
}

// fetch runs on its own goroutine. It must not touch driver state.
func (d *Driver) fetch(generation uint64, u tts.Utterance) {
	c := completion{generation: generation, utterance: u}

	start := time.Now()
	c.audio, c.err = d.fetcher.FetchAudio(d.ctx, u)
	d.metrics.FetchDuration(string(tts.StepAudio), time.Since(start), c.err)

	if c.err == nil {
		start = time.Now()
		c.timing, c.err = d.fetcher.FetchTiming(d.ctx, u)
		d.metrics.FetchDuration(string(tts.StepTiming), time.Since(start), c.err)
	}

	select {
	case d.results <- c:
	case <-d.ctx.Done():
	}
}

// Stop halts playback and discards any fetch in flight. No-op when idle.
func (d *Driver) Stop() {
	if d.state == StateIdle {
		return
	}
	d.generation++
	d.halt()
	d.setState(StateIdle)

	d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechStopped, map[string]any{"utterance": d.current.ID}))
	d.logger.Info().Str("utterance", d.current.ID).Msg("Speech stopped")
}

func (d *Driver) halt() {
	d.output.Stop()
	d.output.Clear()
	d.engine.Stop()
}

// Update applies finished fetches and, while playing, samples the engine and
// writes weights. Call once per frame with a non-decreasing clock.
func (d *Driver) Update(now time.Duration) {
	d.drain(now)

	if d.state != StatePlaying {
		return
	}

	d.engine.Sample(now, d.weights)
	scale := d.config.Gain * d.config.WeightScale
	for i, idx := range d.targetIdx {
		if idx < 0 {
			continue
		}
		d.targets.SetWeight(idx, d.weights[i]*scale)
	}

	if !d.engine.IsPlaying() {
		d.setState(StateIdle)
		d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechFinished, map[string]any{"utterance": d.current.ID}))
		d.logger.Info().Str("utterance", d.current.ID).Msg("Speech finished")
	}
}

func (d *Driver) drain(now time.Duration) {
	for {
		select {
		case c := <-d.results:
			d.complete(c, now)
		default:
			return
		}
	}
}

func (d *Driver) complete(c completion, now time.Duration) {
	if c.generation != d.generation || d.state != StateRequesting {
		d.superseded++
		d.metrics.Superseded()
		d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechSuperseded, map[string]any{
			"generation": c.generation,
			"utterance":  c.utterance.ID,
		}))
		d.logger.Debug().
			Uint64("generation", c.generation).
			Uint64("current", d.generation).
			Str("utterance", c.utterance.ID).
			Msg("Discarding superseded fetch")
		return
	}

	if c.err != nil {
		d.fail(c, failureKind(c.err), c.err)
		return
	}

	if err := d.engine.Parse(c.timing); err != nil {
		if !errors.Is(err, lipsync.ErrMalformedTimingData) {
			err = fmt.Errorf("%w: %v", lipsync.ErrMalformedTimingData, err)
		}
		d.fail(c, "timing", err)
		return
	}

	if err := d.output.Load(c.audio); err != nil {
		d.fail(c, "audio", fmt.Errorf("load audio: %w", err))
		return
	}
	if err := d.output.Play(); err != nil {
		d.output.Clear()
		d.fail(c, "audio", fmt.Errorf("play audio: %w", err))
		return
	}

	d.engine.Reset(now)
	d.setState(StatePlaying)

	d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechStarted, map[string]any{
		"generation": c.generation,
		"utterance":  c.utterance.ID,
		"text":       c.utterance.Text,
	}))
	d.logger.Info().
		Uint64("generation", c.generation).
		Str("utterance", c.utterance.ID).
		Msg("Speech started")
	d.report(c, nil)
}

func (d *Driver) fail(c completion, kind string, err error) {
	d.setState(StateIdle)
	d.metrics.Failure(kind)
	d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechFailed, map[string]any{
		"generation": c.generation,
		"utterance":  c.utterance.ID,
		"kind":       kind,
		"error":      err.Error(),
	}))
	d.logger.Error().
		Err(err).
		Str("kind", kind).
		Uint64("generation", c.generation).
		Str("utterance", c.utterance.ID).
		Msg("Speech failed")
	d.report(c, err)
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, tts.ErrTransport):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "fetch"
	}
}

func (d *Driver) report(c completion, err error) {
	if d.onOutcome == nil {
		return
	}
	d.onOutcome(Outcome{
		Generation:  c.generation,
		UtteranceID: c.utterance.ID,
		Text:        c.utterance.Text,
		State:       d.state,
		Err:         err,
	})
}

func (d *Driver) setState(s State) {
	if d.state == s {
		return
	}
	from := d.state
	d.state = s
	d.bus.PublishSync(bus.NewEvent(bus.EventTypeSpeechStateChanged, map[string]any{
		"from": string(from),
		"to":   string(s),
	}))
}

// IsSpeaking is true only while playing; a pending request is not speech yet.
func (d *Driver) IsSpeaking() bool {
	return d.state == StatePlaying
}

func (d *Driver) State() State {
	return d.state
}

// Generation returns the newest generation handed out.
func (d *Driver) Generation() uint64 {
	return d.generation
}

func (d *Driver) Status() Status {
	return Status{
		State:          d.state,
		Speaking:       d.IsSpeaking(),
		Generation:     d.generation,
		UtteranceID:    d.current.ID,
		Text:           d.current.Text,
		Voice:          d.config.Voice,
		Gain:           d.config.Gain,
		Superseded:     d.superseded,
		MissingTargets: d.MissingTargets(),
	}
}

func (d *Driver) SetGain(gain float32) {
	d.config.Gain = gain
}

// SetVoice changes the voice used by later Speak calls.
func (d *Driver) SetVoice(voice tts.Voice) {
	d.config.Voice = voice
}

// SetExtraParams changes the string appended to later requests.
func (d *Driver) SetExtraParams(extra string) {
	d.config.ExtraParams = extra
}

// SetOutcomeHandler registers fn to run on the frame goroutine for every
// applied fetch chain.
func (d *Driver) SetOutcomeHandler(fn func(Outcome)) {
	d.onOutcome = fn
}

// MissingTargets lists the tracked visemes that resolved to no target.
func (d *Driver) MissingTargets() []string {
	out := make([]string, len(d.missing))
	copy(out, d.missing)
	return out
}

// Close abandons fetches in flight. Safe from any goroutine.
func (d *Driver) Close() {
	d.cancel()
}
