// Package logger はJSON構造化ログの出力先とレベルを構成する。
package logger

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ローテーション設定
const (
	rotateMaxSizeMB  = 50
	rotateMaxBackups = 5
	rotateMaxAgeDays = 14
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
// writerが指定された場合はそのwriterに出力する。
func Setup(w io.Writer, level slog.Leveler) *slog.Logger {
	if level == nil {
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はJSON構造化ログ出力をグローバルロガーとして設定し、そのロガーを返す。
// 本番ではos.Stdoutを渡すことを想定している。
func SetupDefault(w io.Writer, level slog.Leveler) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	logger := Setup(w, level)
	slog.SetDefault(logger)
	return logger
}

// Output はwに加えてfileへローテーション付きで書き込むwriterを返す。
// fileが空の場合はwをそのまま返す。返されたCloserは終了時に呼び出す。
func Output(w io.Writer, file string) (io.Writer, io.Closer) {
	if w == nil {
		w = os.Stdout
	}
	if file == "" {
		return w, io.NopCloser(nil)
	}

	rot := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    rotateMaxSizeMB,
		MaxBackups: rotateMaxBackups,
		MaxAge:     rotateMaxAgeDays,
		Compress:   true,
	}
	return io.MultiWriter(w, rot), rot
}
