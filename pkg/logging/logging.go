package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format はログの出力形式を表す。
type Format string

const (
	// FormatJSON は1行1JSONの形式で出力する。本番環境向け。
	FormatJSON Format = "json"
	// FormatConsole は人間が読みやすい形式で出力する。開発環境向け。
	FormatConsole Format = "console"
)

func init() {
	zerolog.ErrorFieldName = "err"
}

// New は指定されたレベルと形式で標準出力に書き込むロガーを生成する。
// 不明なレベルはinfoとして扱う。
func New(level string, format Format) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter は任意の出力先に書き込むロガーを生成する。
func NewWithWriter(w io.Writer, level string, format Format) zerolog.Logger {
	out := w
	if format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).
		Level(ParseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// ParseLevel はログレベル文字列をzerologのレベルに変換する。
func ParseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Component はコンポーネント名を付与した子ロガーを返す。
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
