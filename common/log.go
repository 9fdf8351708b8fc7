package common

import (
	"io"
	"os"
	"path/filepath"

	"github.com/inconshreveable/log15"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"gopkg.in/natefinch/lumberjack.v2"
)

func makeDefaultLogger(absFilePath string) io.Writer {
	return &lumberjack.Logger{
		Filename:   absFilePath,
		MaxSize:    100,
		MaxBackups: 14,
		MaxAge:     14,
		Compress:   true,
		LocalTime:  true,
	}
}

// LogHandler writes logfmt records at or above lvl into a rotating file
// path/subDir/filename.
func LogHandler(path, subDir, filename, lvl string) log15.Handler {
	absFilename := filepath.Join(path, subDir, filename)
	out := makeDefaultLogger(absFilename)
	return log15.LvlFilterHandler(parseLvl(lvl), log15.StreamHandler(out, log15.LogfmtFormat()))
}

// TerminalHandler logs to stdout, colored when stdout is a terminal.
func TerminalHandler(lvl string) log15.Handler {
	h := log15.StreamHandler(os.Stdout, log15.LogfmtFormat())
	if isatty.IsTerminal(os.Stdout.Fd()) {
		h = log15.StreamHandler(colorable.NewColorableStdout(), log15.TerminalFormat())
	}
	return log15.LvlFilterHandler(parseLvl(lvl), h)
}

func parseLvl(lvl string) log15.Lvl {
	logLevel, err := log15.LvlFromString(lvl)
	if err != nil {
		return log15.LvlInfo
	}
	return logLevel
}
