package kernel

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger 创建程序使用的日志记录器。
// Parameters:
//   - level: 日志级别（debug/info/warn/error），解析失败时使用 info
//   - pretty: 是否输出控制台友好格式
//   - w: 输出目标，nil 时为 os.Stderr
func NewLogger(level string, pretty bool, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime}
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}
