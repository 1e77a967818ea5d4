package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/MrWong99/pivoice/internal/config"
	"github.com/MrWong99/pivoice/internal/memgov"
	"github.com/MrWong99/pivoice/internal/orchestrator"
	"github.com/MrWong99/pivoice/pkg/provider/tts"
)

const rule = "============================================================"

// printMemoryReport writes the memory snapshot, the tier table and the
// recommendation for -check-memory.
func printMemoryReport(w io.Writer, s memgov.Snapshot, warnBelowMB int) {
	fmt.Fprintln(w, rule)
	fmt.Fprintln(w, "メモリ情報")
	fmt.Fprintln(w, rule)
	if !s.Known() {
		fmt.Fprintln(w, "メモリ情報を取得できませんでした (/proc/meminfo)")
		fmt.Fprintln(w, rule)
		return
	}

	fmt.Fprintf(w, "総メモリ容量:   %6d MB\n", s.TotalMB)
	fmt.Fprintf(w, "利用可能メモリ: %6d MB\n", s.AvailableMB)
	fmt.Fprintf(w, "スワップ使用:   %6d MB\n", s.SwapUsedMB)
	fmt.Fprintf(w, "メモリ使用量: [%s] %.1f%%\n", usageBar(s.UsedPercent, 40), s.UsedPercent)
	if s.AvailableMB < warnBelowMB {
		fmt.Fprintf(w, "⚠ 空きメモリが %d MB を下回っています\n", warnBelowMB)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "モデル   必要メモリ  ディスク  判定")
	for _, fit := range memgov.Requirements(s) {
		mark := "✗"
		if fit.Fits {
			mark = "✓"
		}
		fmt.Fprintf(w, "%-8s %7d MB %6d MB  %s\n", fit.Tier, fit.Profile.MinRAMMB, fit.Profile.DiskMB, mark)
	}

	fmt.Fprintln(w)
	if tier, err := memgov.RecommendTier(s); err != nil {
		fmt.Fprintln(w, "推奨モデル: なし (メモリ不足のため動作困難)")
	} else {
		fmt.Fprintf(w, "推奨モデル: %s\n", tier)
	}
	fmt.Fprintln(w, rule)
}

func usageBar(percent float64, width int) string {
	n := int(percent / 100 * float64(width))
	n = min(max(n, 0), width)
	return strings.Repeat("█", n) + strings.Repeat("░", width-n)
}

// printVoices writes the voice catalogue of the active engine. HTTP engine
// styles named "speaker (style)" are grouped under their speaker.
func printVoices(w io.Writer, kind tts.Kind, voices []tts.Voice) {
	fmt.Fprintf(w, "使用エンジン: %s\n", kind)
	if len(voices) == 0 {
		fmt.Fprintln(w, "話者情報を取得できませんでした")
		return
	}
	fmt.Fprintln(w, "利用可能な音声:")
	fmt.Fprintln(w)

	if kind != tts.KindHTTP {
		for _, v := range voices {
			tags := ""
			if len(v.Tags) > 0 {
				tags = " [" + strings.Join(v.Tags, ", ") + "]"
			}
			fmt.Fprintf(w, "  - %s%s (ID: %s)\n", v.Name, tags, v.ID)
		}
		return
	}

	var order []string
	styles := make(map[string][]tts.Voice)
	for _, v := range voices {
		speaker, _, _ := strings.Cut(v.Name, " (")
		if _, seen := styles[speaker]; !seen {
			order = append(order, speaker)
		}
		styles[speaker] = append(styles[speaker], v)
	}
	for _, speaker := range order {
		fmt.Fprintf(w, "📢 %s\n", speaker)
		for _, v := range styles[speaker] {
			style := v.Name
			if _, s, ok := strings.Cut(v.Name, " ("); ok {
				style = strings.TrimSuffix(s, ")")
			}
			fmt.Fprintf(w, "   - %s (ID: %s)\n", style, v.ID)
		}
		fmt.Fprintln(w)
	}
}

// printStartupSummary writes the boxed configuration overview.
func printStartupSummary(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║          pivoice: startup summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	summaryRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	summaryRow(w, "STT", providerLabel(cfg.Providers.STT))
	summaryRow(w, "Model tier", cfg.Conversation.Tier+" / "+cfg.Conversation.Compute)
	summaryRow(w, "Language", cfg.Conversation.Language)
	summaryRow(w, "Capture", fmt.Sprintf("%.1f s", cfg.Conversation.CaptureSeconds))
	if cfg.Synthesis.Enabled {
		summaryRow(w, "TTS", providerLabel(cfg.Providers.TTS))
		summaryRow(w, "Local TTS", providerLabel(cfg.Providers.LocalTTS))
	} else {
		summaryRow(w, "TTS", "(disabled)")
	}
	summaryRow(w, "Audio", providerLabel(cfg.Providers.Audio))
	if cfg.Server.ListenAddr != "" {
		summaryRow(w, "Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}

// summaryRow truncates and pads value by rune count.
func summaryRow(w io.Writer, label, value string) {
	const width = 25
	r := []rune(value)
	if len(r) > width {
		r = append(r[:width-1], '…')
	}
	fmt.Fprintf(w, "║  %-12s : %s%s ║\n", label, string(r), strings.Repeat(" ", width-len(r)))
}

// printSessionSummary writes the per-outcome turn counts at exit.
func printSessionSummary(w io.Writer, stats orchestrator.Stats) {
	if stats.Turns == 0 {
		return
	}
	fmt.Fprintln(w, "╔═══════════════════════════════════════════╗")
	fmt.Fprintln(w, "║              session summary              ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════════╣")
	summaryRow(w, "Turns", strconv.Itoa(stats.Turns))
	outcomes := slices.Sorted(maps.Keys(stats.Outcomes))
	for _, o := range outcomes {
		summaryRow(w, o, strconv.Itoa(stats.Outcomes[o]))
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════════╝")
}
