// Package logger — общая обёртка над zap для всего приложения.
// Держит глобальный экземпляр, умеет менять уровень консоли и файла на лету
// (zap.AtomicLevel), переключать целевые потоки и подключать файловый лог
// с ротацией через lumberjack. Все операции потокобезопасны.

package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu сериализует пересборку глобального логгера.
	mu sync.Mutex
	// log — текущий экземпляр zap.Logger; пересоздаётся при смене настроек.
	log *zap.Logger
	// consoleLevel — динамический уровень консольного вывода.
	consoleLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// fileLevel — уровень файлового вывода, независимый от консоли.
	fileLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	// stdoutWriter и stderrWriter можно переназначить в рантайме (SetWriters),
	// например чтобы консоль CLI не перемешивалась с логом.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	// fileWriter — ротируемый файловый приёмник; nil, пока AttachFile не вызван.
	fileWriter zapcore.WriteSyncer
)

// FileOptions — параметры файлового лога с ротацией.
// Заполняются из окружения (LOG_FILE_*).
type FileOptions struct {
	Path       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// consoleEncoderConfig — консольный encoder: цветные уровни, короткий caller,
// человекочитаемое время. Файловый вариант отличается только отсутствием цветов.
func consoleEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// fileEncoderConfig — без ANSI-цветов: файл разбирают grep-ом и less-ом.
func fileEncoderConfig() zapcore.EncoderConfig {
	cfg := consoleEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return cfg
}

// levelFromString переводит строку в zapcore.Level; неизвестные значения дают Info.
func levelFromString(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// rebuildLocked пересобирает глобальный логгер под текущие потоки и уровни.
// Вызывающий обязан держать mu. AddCallerSkip(1) прячет обёртки logger.* из caller.
// Старый экземпляр перед заменой сбрасывает буферы через Sync.
func rebuildLocked() {
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderConfig()), stdoutWriter, consoleLevel)
	if fileWriter != nil {
		fileCore := zapcore.NewCore(zapcore.NewConsoleEncoder(fileEncoderConfig()), fileWriter, fileLevel)
		core = zapcore.NewTee(core, fileCore)
	}
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init настраивает уровень консольного вывода и пересобирает логгер.
// Допустимые уровни: debug, info (по умолчанию), warn, error; регистр не важен.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	consoleLevel.SetLevel(levelFromString(level))
	rebuildLocked()
}

// AttachFile подключает файловый вывод с ротацией. Пустой Path отключает файл.
// Уровень файла независим от консоли: консоль обычно на info, файл на debug,
// чтобы после инцидента было что читать.
func AttachFile(opts FileOptions) {
	mu.Lock()
	defer mu.Unlock()

	if strings.TrimSpace(opts.Path) == "" {
		fileWriter = nil
		rebuildLocked()
		return
	}

	fileLevel.SetLevel(levelFromString(opts.Level))
	fileWriter = zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	})
	rebuildLocked()
}

// SetWriters переназначает потоки логгера. Nil возвращает Stdout/Stderr.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLocked()
}

// Logger возвращает текущий zap.Logger, лениво создавая его при первом обращении.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLocked()
	}
	return log
}

// IsDebugEnabled сообщает, включён ли debug-уровень хотя бы на одном приёмнике.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

// Debug пишет структурированное сообщение уровня Debug.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info пишет структурированное сообщение уровня Info.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn пишет структурированное предупреждение.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error пишет структурированное сообщение об ошибке.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal пишет сообщение и завершает процесс.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync() // сбросить буферы перед os.Exit
	os.Exit(1)
}

// Debugf форматирует через fmt.Sprintf. В горячих путях предпочтительны zap.Field.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof форматирует через fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf форматирует через fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf форматирует через fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
