// Package logx はサービス共通の構造化ロガー（zerolog）を生成する。
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// consoleTimeFormat はコンソール出力時のタイムスタンプ書式。
const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New は指定レベルのzerologロガーを生成する。
// prettyがtrueの場合は人間向けのコンソール形式、falseの場合はJSON形式で出力する。
// wがnilの場合は標準エラー出力に書き込む。
func New(level string, pretty bool, w io.Writer) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// ParseLevel はログレベル文字列をzerologのレベルに変換する。
// 空文字列はinfoとして扱う。
func ParseLevel(level string) (zerolog.Level, error) {
	s := strings.ToLower(strings.TrimSpace(level))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("ログレベルが不正です: %q: %w", level, err)
	}
	return lvl, nil
}
