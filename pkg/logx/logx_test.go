package logx

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// TestParseLevel はParseLevel関数を検証する。
func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  zerolog.Level
	}{
		{name: "空文字列はinfoになること", input: "", want: zerolog.InfoLevel},
		{name: "debugを解釈できること", input: "debug", want: zerolog.DebugLevel},
		{name: "大文字と空白を許容すること", input: " ERROR ", want: zerolog.ErrorLevel},
		{name: "warningをwarnとして扱うこと", input: "warning", want: zerolog.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLevel(tt.input)
			if err != nil {
				t.Fatalf("ParseLevel()でエラーが発生: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	t.Run("不明なレベルでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := ParseLevel("verbose"); err == nil {
			t.Fatal("ParseLevel()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestNew はNew関数を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("JSON形式で出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := New("info", false, &buf)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		log.Info().Str("key", "value").Msg("hello")

		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("ログ出力のパースに失敗: %v", err)
		}
		if entry["message"] != "hello" {
			t.Errorf("message = %v, want %q", entry["message"], "hello")
		}
		if entry["key"] != "value" {
			t.Errorf("key = %v, want %q", entry["key"], "value")
		}
		if _, ok := entry["time"]; !ok {
			t.Error("timeフィールドが出力されていない")
		}
	})

	t.Run("設定レベル未満のログが出力されないこと", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := New("warn", false, &buf)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		log.Info().Msg("suppressed")

		if buf.Len() != 0 {
			t.Errorf("infoログが出力された: %q", buf.String())
		}
	})

	t.Run("コンソール形式で出力されること", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		log, err := New("info", true, &buf)
		if err != nil {
			t.Fatalf("New()でエラーが発生: %v", err)
		}
		log.Info().Msg("pretty")

		if !strings.Contains(buf.String(), "pretty") {
			t.Errorf("出力にメッセージが含まれていない: %q", buf.String())
		}
		if strings.HasPrefix(buf.String(), "{") {
			t.Errorf("コンソール形式ではなくJSONで出力された: %q", buf.String())
		}
	})

	t.Run("不正なレベルでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		if _, err := New("loud", false, nil); err == nil {
			t.Fatal("New()がエラーを返すべきだが、nilが返った")
		}
	})
}
