package espeak

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

const voicesOutput = `Pty Language       Age/Gender VoiceName          File                 Other Languages
 5  af              --/M      Afrikaans          gmw/af
 5  en-us           --/M      English_(America)  gmw/en-US            (en 3)
 5  ja              --/M      Japanese           jpx/ja
`

// fakeRunner records every invocation and answers from a table keyed by
// the first argument.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	out   map[string]string
	err   map[string]error
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]string{name}, args...))
	key := ""
	if len(args) > 0 {
		key = args[0]
	}
	return []byte(f.out[key]), f.err[key]
}

func (f *fakeRunner) last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeRunner) count(arg string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if len(c) > 1 && c[1] == arg {
			n++
		}
	}
	return n
}

func newFake() *fakeRunner {
	return &fakeRunner{
		out: map[string]string{"--version": "eSpeak NG text-to-speech: 1.51", "--voices": voicesOutput},
		err: map[string]error{},
	}
}

func TestProbe(t *testing.T) {
	f := newFake()
	e := New(WithRunner(f.run), WithBinary("/usr/bin/espeak-ng"))
	if err := e.Probe(context.Background()); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if got := f.last(); !slices.Equal(got, []string{"/usr/bin/espeak-ng", "--version"}) {
		t.Errorf("call = %v", got)
	}
	if e.Kind() != tts.KindLocal {
		t.Errorf("Kind = %q", e.Kind())
	}

	f.err["--version"] = errors.New("executable file not found in $PATH")
	if err := e.Probe(context.Background()); err == nil {
		t.Error("expected probe error")
	}
}

func TestListVoices(t *testing.T) {
	e := New(WithRunner(newFake().run))
	got, err := e.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	want := []tts.Voice{
		{ID: "0", Name: "Afrikaans", Tags: []string{"af"}},
		{ID: "1", Name: "English (America)", Tags: []string{"en-us"}},
		{ID: "2", Name: "Japanese", Tags: []string{"ja"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("voices mismatch (-want +got):\n%s", diff)
	}
}

func TestListVoices_ParseError(t *testing.T) {
	for name, out := range map[string]string{
		"empty":      "",
		"bad header": "something else\n",
		"short row":  "Pty Language Age/Gender VoiceName File\n 5 af\n",
	} {
		t.Run(name, func(t *testing.T) {
			f := newFake()
			f.out["--voices"] = out
			_, err := New(WithRunner(f.run)).ListVoices(context.Background())
			var pe *tts.ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *tts.ParseError", err)
			}
		})
	}
}

func TestSpeak(t *testing.T) {
	tests := []struct {
		name   string
		voice  tts.Voice
		rate   int
		wantWS string
		wantV  string // "" means no -v flag
	}{
		{name: "default voice", voice: tts.Voice{}, rate: 0, wantWS: "175"},
		{name: "valid index", voice: tts.Voice{ID: "2"}, rate: 2, wantWS: "205", wantV: "jpx/ja"},
		{name: "index out of range", voice: tts.Voice{ID: "9"}, rate: 0, wantWS: "175"},
		{name: "negative index", voice: tts.Voice{ID: "-1"}, rate: 0, wantWS: "175"},
		{name: "rate clamped high", voice: tts.Voice{ID: "0"}, rate: 50, wantWS: "325", wantV: "gmw/af"},
		{name: "rate clamped low", voice: tts.Voice{}, rate: -50, wantWS: "25"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake()
			e := New(WithRunner(f.run))
			err := e.Speak(context.Background(), "-hello", tt.voice, tts.Params{Rate: tt.rate})
			if err != nil {
				t.Fatalf("Speak: %v", err)
			}
			want := []string{DefaultBinary, "-s", tt.wantWS}
			if tt.wantV != "" {
				want = append(want, "-v", tt.wantV)
			}
			want = append(want, "--", "-hello")
			if diff := cmp.Diff(want, f.last()); diff != "" {
				t.Errorf("argv mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSpeak_CachesVoiceTable(t *testing.T) {
	f := newFake()
	e := New(WithRunner(f.run))
	for range 3 {
		if err := e.Speak(context.Background(), "hi", tts.Voice{ID: "1"}, tts.Params{}); err != nil {
			t.Fatal(err)
		}
	}
	if n := f.count("--voices"); n != 1 {
		t.Errorf("--voices read %d times, want 1", n)
	}
}

func TestSpeak_Error(t *testing.T) {
	f := newFake()
	f.err["-s"] = errors.New("exit status 1")
	f.out["-s"] = "audio device busy\n"
	err := New(WithRunner(f.run)).Speak(context.Background(), "hi", tts.Voice{}, tts.Params{})
	if err == nil || !strings.Contains(err.Error(), "audio device busy") {
		t.Fatalf("err = %v, want output in message", err)
	}
}

func TestSpeak_VoiceTableUnavailable(t *testing.T) {
	f := newFake()
	f.err["--voices"] = errors.New("voices unavailable")
	e := New(WithRunner(f.run))

	if err := e.Speak(context.Background(), "こんにちは", tts.Voice{ID: "2"}, tts.Params{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	want := []string{DefaultBinary, "-s", "175", "--", "こんにちは"}
	if diff := cmp.Diff(want, f.last()); diff != "" {
		t.Errorf("argv mismatch (-want +got):\n%s", diff)
	}

	// A later successful read still selects the voice.
	delete(f.err, "--voices")
	if err := e.Speak(context.Background(), "hi", tts.Voice{ID: "2"}, tts.Params{}); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if got := f.last(); !slices.Contains(got, "jpx/ja") {
		t.Errorf("argv = %v, want voice jpx/ja after recovery", got)
	}
}
