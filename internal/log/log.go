package log

import (
	"io"

	"github.com/sirupsen/logrus"
)

type Level = logrus.Level

type Fields = logrus.Fields

const (
	PanicLevel = logrus.PanicLevel
	FatalLevel = logrus.FatalLevel
	ErrorLevel = logrus.ErrorLevel
	WarnLevel  = logrus.WarnLevel
	InfoLevel  = logrus.InfoLevel
	DebugLevel = logrus.DebugLevel
	TraceLevel = logrus.TraceLevel
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.Formatter = &logrus.TextFormatter{
		DisableLevelTruncation: true,
		PadLevelText:           true,
		TimestampFormat:        "2006/01/02 15:04:05",
		FullTimestamp:          true,
	}
}

func SetLevel(level Level) { Logger.SetLevel(level) }

func SetOutput(w io.Writer) { Logger.SetOutput(w) }

// UseJSON switches to one JSON object per line, for log shippers.
func UseJSON() { Logger.Formatter = &logrus.JSONFormatter{} }

func WithFields(f Fields) *logrus.Entry { return Logger.WithFields(f) }

func WithError(err error) *logrus.Entry { return Logger.WithError(err) }

func Debugf(fmt string, args ...any) { Logger.Debugf(fmt, args...) }
func Debug(args ...any)              { Logger.Debugln(args...) }

func Infof(fmt string, args ...any) { Logger.Infof(fmt, args...) }
func Info(args ...any)              { Logger.Infoln(args...) }

func Printf(fmt string, args ...any) { Logger.Printf(fmt, args...) }

func Warnf(fmt string, args ...any) { Logger.Warnf(fmt, args...) }
func Warn(args ...any)              { Logger.Warnln(args...) }

func Errorf(fmt string, args ...any) { Logger.Errorf(fmt, args...) }
func Error(args ...any)              { Logger.Errorln(args...) }

func Fatalf(fmt string, args ...any) { Logger.Fatalf(fmt, args...) }
func Fatal(args ...any)              { Logger.Fatalln(args...) }
