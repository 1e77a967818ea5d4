package dialogue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/pivoice/internal/dialogue"
	"github.com/MrWong99/pivoice/internal/observe"
	"github.com/MrWong99/pivoice/internal/resilience"
	"github.com/MrWong99/pivoice/pkg/provider/llm"
	"github.com/MrWong99/pivoice/pkg/provider/llm/mock"
)

const system = "あなたは丁寧変換アシスタントです。"

func TestComplete_SystemField(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  承知いたしました。\n"}}
	c := dialogue.New(p)

	reply, err := c.Complete(context.Background(), "やっといて", system)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "承知いたしました。" {
		t.Errorf("reply = %q, want trimmed text", reply)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(calls))
	}
	want := llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "やっといて"}},
	}
	if diff := cmp.Diff(want, calls[0].Req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestComplete_Inline(t *testing.T) {
	p := &mock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "はい"}}
	c := dialogue.New(p, dialogue.WithPromptStyle(dialogue.PromptInline), dialogue.WithMaxTokens(200))

	if _, err := c.Complete(context.Background(), "こんにちは", system); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	want := llm.CompletionRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: system + "\n\nユーザー: こんにちは"}},
		MaxTokens: 200,
	}
	if diff := cmp.Diff(want, p.Calls()[0].Req); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestComplete_EmptyInputSkipsProvider(t *testing.T) {
	p := &mock.Provider{}
	c := dialogue.New(p)
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := c.Complete(context.Background(), text, system); !errors.Is(err, dialogue.ErrEmptyInput) {
			t.Errorf("Complete(%q) err = %v, want ErrEmptyInput", text, err)
		}
	}
	if n := p.CallCount(); n != 0 {
		t.Errorf("provider called %d times, want 0", n)
	}
}

func TestComplete_NilResponseIsEmptyReply(t *testing.T) {
	c := dialogue.New(&mock.Provider{})
	reply, err := c.Complete(context.Background(), "hi", "")
	if err != nil || reply != "" {
		t.Errorf("Complete = %q, %v; want empty reply and nil", reply, err)
	}
}

func TestComplete_ErrorIsDialogueErrorWithoutRetry(t *testing.T) {
	cause := errors.New("connection refused")
	p := &mock.Provider{CompleteErr: cause}
	c := dialogue.New(p, dialogue.WithProviderName("gemini"))

	_, err := c.Complete(context.Background(), "hi", system)
	var de *dialogue.DialogueError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DialogueError", err)
	}
	if de.Provider != "gemini" || !errors.Is(err, cause) {
		t.Errorf("DialogueError = %+v", de)
	}
	if n := p.CallCount(); n != 1 {
		t.Errorf("provider called %d times, want exactly 1", n)
	}
}

func TestComplete_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	p := &mock.Provider{CompleteErr: errors.New("timeout")}
	c := dialogue.New(p, dialogue.WithBreaker(resilience.CircuitBreakerConfig{
		Name: "dialogue",
		Now:  func() time.Time { return now },
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = c.Complete(ctx, "hi", system)
	}
	if c.BreakerState() != resilience.StateOpen {
		t.Fatalf("breaker state = %v, want open", c.BreakerState())
	}

	_, err := c.Complete(ctx, "hi", system)
	var de *dialogue.DialogueError
	if !errors.As(err, &de) || !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want *DialogueError wrapping ErrCircuitOpen", err)
	}
	if n := p.CallCount(); n != 5 {
		t.Errorf("provider called %d times, want 5", n)
	}

	// After the reset timeout a successful probe closes the breaker.
	now = now.Add(31 * time.Second)
	p.CompleteErr = nil
	p.CompleteResponse = &llm.CompletionResponse{Content: "ok"}
	if reply, err := c.Complete(ctx, "hi", system); err != nil || reply != "ok" {
		t.Fatalf("Complete after reset = %q, %v", reply, err)
	}
	if c.BreakerState() != resilience.StateClosed {
		t.Errorf("breaker state = %v, want closed", c.BreakerState())
	}
}

func TestComplete_RecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	p := &mock.Provider{CompleteErr: errors.New("boom")}
	c := dialogue.New(p, dialogue.WithMetrics(m), dialogue.WithProviderName("gemini"))
	_, _ = c.Complete(context.Background(), "hi", system)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatal(err)
	}
	var durations uint64
	var errs int64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			switch met.Name {
			case "pivoice.llm.duration":
				durations = met.Data.(metricdata.Histogram[float64]).DataPoints[0].Count
			case "pivoice.provider.errors":
				for _, dp := range met.Data.(metricdata.Sum[int64]).DataPoints {
					if v, _ := dp.Attributes.Value(attribute.Key("provider")); v.AsString() == "gemini" {
						errs += dp.Value
					}
				}
			}
		}
	}
	if durations != 1 {
		t.Errorf("llm duration count = %d, want 1", durations)
	}
	if errs != 1 {
		t.Errorf("provider errors for gemini = %d, want 1", errs)
	}
}

func TestParsePromptStyle(t *testing.T) {
	tests := []struct {
		in      string
		want    dialogue.PromptStyle
		wantErr bool
	}{
		{in: "", want: dialogue.PromptSystemField},
		{in: "system", want: dialogue.PromptSystemField},
		{in: " Inline ", want: dialogue.PromptInline},
		{in: "chat", wantErr: true},
	}
	for _, tt := range tests {
		got, err := dialogue.ParsePromptStyle(tt.in)
		if (err != nil) != tt.wantErr || (!tt.wantErr && got != tt.want) {
			t.Errorf("ParsePromptStyle(%q) = %v, %v", tt.in, got, err)
		}
	}
	if dialogue.PromptInline.String() != "inline" {
		t.Errorf("PromptInline.String() = %q", dialogue.PromptInline.String())
	}
}

func TestComplete_ScriptedTurns(t *testing.T) {
	p := &mock.Provider{Replies: []mock.Reply{
		{Err: errors.New("503")},
		{Content: "", FinishReason: llm.FinishFiltered},
		{Content: "途中まで", FinishReason: llm.FinishLength},
	}}
	c := dialogue.New(p, dialogue.WithMaxTokens(16))
	ctx := context.Background()

	var de *dialogue.DialogueError
	if _, err := c.Complete(ctx, "一回目", system); !errors.As(err, &de) {
		t.Fatalf("first turn err = %v, want *DialogueError", err)
	}
	if reply, err := c.Complete(ctx, "二回目", system); err != nil || reply != "" {
		t.Errorf("filtered turn = %q, %v; want empty reply without error", reply, err)
	}
	if reply, err := c.Complete(ctx, "三回目", system); err != nil || reply != "途中まで" {
		t.Errorf("truncated turn = %q, %v; want partial reply", reply, err)
	}
	if got := p.LastRequest().Messages[0].Content; got != "三回目" {
		t.Errorf("last request content = %q", got)
	}
	if n := p.CallCount(); n != 3 {
		t.Errorf("provider called %d times, want 3", n)
	}
}
