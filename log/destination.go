package log

import (
	"io"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation settings of file log destination.
const (
	MaxFileSizeMB  = 256
	MaxFileBackups = 8
	MaxFileAgeDays = 30
)

// Destination returns writer for log destination: "stderr", "stdout" or file path.
// Files are rotated when they grow larger than MaxFileSizeMB.
func Destination(dest string) (w io.Writer, err error) {
	switch strings.ToLower(dest) {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		w = &lumberjack.Logger{
			Filename:   dest,
			MaxSize:    MaxFileSizeMB,
			MaxBackups: MaxFileBackups,
			MaxAge:     MaxFileAgeDays,
		}
	}
	return
}
