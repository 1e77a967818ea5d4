// Package voicevox provides a tts.Engine backed by a VOICEVOX engine server.
//
// Synthesis is a two-step exchange. POST /audio_query returns a query
// document for the text and speaker; the engine adjusts its speed, pitch and
// intonation fields and posts it back to POST /synthesis, which answers with
// a WAV file. The WAV is written to a temporary file and handed to an
// audio.Player, which blocks until playback ends.
//
// Typical usage:
//
//	e, err := voicevox.New("http://127.0.0.1:50021", device)
//	err = e.Speak(ctx, "こんにちは", tts.Voice{ID: "1"}, tts.DefaultParams())
package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/pivoice/pkg/audio"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Engine = (*Engine)(nil)

const (
	// DefaultBaseURL is where a locally installed VOICEVOX engine listens.
	DefaultBaseURL = "http://127.0.0.1:50021"

	// DefaultSpeaker is the style id used when a voice id is not numeric.
	DefaultSpeaker = 1

	defaultTimeout = 10 * time.Second

	versionEndpoint    = "/version"
	speakersEndpoint   = "/speakers"
	audioQueryEndpoint = "/audio_query"
	synthesisEndpoint  = "/synthesis"
)

// Fields of the audio query document that must be present.
const (
	fieldSpeed         = "speedScale"
	fieldPitch         = "pitchScale"
	fieldIntonation    = "intonationScale"
	fieldAccentPhrases = "accent_phrases"
)

// Option is a functional option for configuring an Engine.
type Option func(*Engine)

// WithTimeout sets the per-request HTTP timeout. Defaults to 10 s.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the HTTP client. The client's timeout is kept.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.httpClient = c
		}
	}
}

// WithTempDir sets the directory for transient WAV files. Defaults to
// os.TempDir().
func WithTempDir(dir string) Option {
	return func(e *Engine) {
		e.tempDir = dir
	}
}

// Engine talks to one VOICEVOX server. It holds a single persistent HTTP
// client so connections are reused between utterances.
type Engine struct {
	baseURL    string
	player     audio.Player
	httpClient *http.Client
	tempDir    string
}

// New returns an Engine for the server at baseURL. An empty baseURL selects
// [DefaultBaseURL]. player is used for every Speak call and must not be nil.
func New(baseURL string, player audio.Player, opts ...Option) (*Engine, error) {
	if player == nil {
		return nil, errors.New("voicevox: player must not be nil")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("voicevox: invalid base URL %q: %w", baseURL, err)
	}
	e := &Engine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		player:     player,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// BaseURL returns the server address the engine talks to.
func (e *Engine) BaseURL() string { return e.baseURL }

// Kind implements tts.Engine.
func (e *Engine) Kind() tts.Kind { return tts.KindHTTP }

// Probe implements tts.Engine. A 200 from GET /version means available.
func (e *Engine) Probe(ctx context.Context) error {
	resp, err := e.do(ctx, http.MethodGet, versionEndpoint, nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// ---- speakers ----

type speakerStyle struct {
	Name *string `json:"name"`
	ID   *int    `json:"id"`
}

type speaker struct {
	Name   *string        `json:"name"`
	Styles []speakerStyle `json:"styles"`
}

// ListVoices implements tts.Engine. Every style of every speaker becomes one
// voice whose ID is the style id and whose Tags holds the style name.
func (e *Engine) ListVoices(ctx context.Context) ([]tts.Voice, error) {
	resp, err := e.do(ctx, http.MethodGet, speakersEndpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var speakers []speaker
	if err := json.NewDecoder(resp.Body).Decode(&speakers); err != nil {
		return nil, &tts.ParseError{Engine: "voicevox", What: "speakers", Err: err}
	}
	return voicesFromSpeakers(speakers)
}

func voicesFromSpeakers(speakers []speaker) ([]tts.Voice, error) {
	var voices []tts.Voice
	for i, sp := range speakers {
		if sp.Name == nil {
			return nil, &tts.ParseError{Engine: "voicevox", What: "speakers", Err: fmt.Errorf("speaker %d has no name", i)}
		}
		for j, st := range sp.Styles {
			if st.ID == nil || st.Name == nil {
				return nil, &tts.ParseError{Engine: "voicevox", What: "speakers", Err: fmt.Errorf("speaker %q style %d lacks name or id", *sp.Name, j)}
			}
			voices = append(voices, tts.Voice{
				ID:   strconv.Itoa(*st.ID),
				Name: fmt.Sprintf("%s (%s)", *sp.Name, *st.Name),
				Tags: []string{*st.Name},
			})
		}
	}
	return voices, nil
}

// ---- synthesis ----

// Speak implements tts.Engine. Zero Speed and Intonation in params fall back
// to 1.0.
func (e *Engine) Speak(ctx context.Context, text string, voice tts.Voice, params tts.Params) error {
	wav, err := e.Synthesize(ctx, text, voice, params)
	if err != nil {
		return err
	}

	f, err := os.CreateTemp(e.tempDir, "pivoice-*.wav")
	if err != nil {
		return fmt.Errorf("voicevox: create temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(wav); err != nil {
		f.Close()
		return fmt.Errorf("voicevox: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("voicevox: close temp file: %w", err)
	}
	if err := e.player.PlayFile(ctx, path); err != nil {
		return fmt.Errorf("voicevox: play: %w", err)
	}
	return nil
}

// Synthesize runs the audio_query and synthesis exchange and returns the WAV
// bytes without playing them.
func (e *Engine) Synthesize(ctx context.Context, text string, voice tts.Voice, params tts.Params) ([]byte, error) {
	spk := speakerID(voice)

	q := url.Values{}
	q.Set("text", text)
	q.Set("speaker", spk)
	resp, err := e.do(ctx, http.MethodPost, audioQueryEndpoint, q, nil)
	if err != nil {
		return nil, err
	}
	var doc map[string]json.RawMessage
	err = json.NewDecoder(resp.Body).Decode(&doc)
	resp.Body.Close()
	if err != nil {
		return nil, &tts.ParseError{Engine: "voicevox", What: "audio query", Err: err}
	}

	body, err := applyParams(doc, params)
	if err != nil {
		return nil, err
	}

	q = url.Values{}
	q.Set("speaker", spk)
	resp, err = e.do(ctx, http.MethodPost, synthesisEndpoint, q, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voicevox: read synthesis response: %w", err)
	}
	return wav, nil
}

// applyParams validates the audio query document, overwrites its three
// scale fields and re-encodes it. Unknown fields are kept verbatim.
func applyParams(doc map[string]json.RawMessage, params tts.Params) ([]byte, error) {
	for _, k := range []string{fieldSpeed, fieldPitch, fieldIntonation, fieldAccentPhrases} {
		if _, ok := doc[k]; !ok {
			return nil, &tts.ParseError{Engine: "voicevox", What: "audio query", Err: fmt.Errorf("missing field %q", k)}
		}
	}

	speed, intonation := params.Speed, params.Intonation
	if speed == 0 {
		speed = 1.0
	}
	if intonation == 0 {
		intonation = 1.0
	}
	doc[fieldSpeed] = number(speed)
	doc[fieldPitch] = number(params.Pitch)
	doc[fieldIntonation] = number(intonation)

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("voicevox: encode audio query: %w", err)
	}
	return out, nil
}

func number(f float64) json.RawMessage {
	return json.RawMessage(strconv.FormatFloat(f, 'f', -1, 64))
}

func speakerID(v tts.Voice) string {
	if n, ok := v.Index(); ok {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(DefaultSpeaker)
}

// do sends one request and returns the response when the status is 200. The
// caller closes the body.
func (e *Engine) do(ctx context.Context, method, endpoint string, query url.Values, body []byte) (*http.Response, error) {
	u := e.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("voicevox: create %s request: %w", endpoint, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voicevox: %s %s: %w", method, endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("voicevox: %s %s returned status %d: %s", method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
