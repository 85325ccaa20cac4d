package logging

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// PrintfLogger は Printf 形式でログを出すライブラリの出力をzerologへ流すアダプタ。
// go-redis の redis.SetLogger に渡して使う。
type PrintfLogger struct {
	log zerolog.Logger
}

// NewPrintfLogger は warn レベルで出力する PrintfLogger を生成する。
func NewPrintfLogger(base zerolog.Logger) PrintfLogger {
	return PrintfLogger{log: base}
}

// Printf はフォーマットしたメッセージを warn レベルで出力する。
func (l PrintfLogger) Printf(_ context.Context, format string, v ...any) {
	l.log.Warn().Msgf(strings.TrimSuffix(format, "\n"), v...)
}
