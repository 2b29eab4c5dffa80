package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tender-radar/internal/app"
	"tender-radar/internal/infra/config"
	"tender-radar/internal/infra/logger"
	"tender-radar/internal/infra/pr"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", "assets/.env", "path to .env file")
	flag.Parse()

	// config.Load загружает конфигурацию из .env; здесь же фиксируется
	// config.AppLocation — таймзона всех отметок времени приложения.
	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	// Применяем часовую зону приложения глобально: журнал, карточки и
	// расписания планировщика живут в одной зоне.
	time.Local = config.AppLocation //nolint:reassign // намеренно задаём часовую зону процесса

	// logger.Init задаёт уровень, SetWriters перенаправляет выводы в pr
	// (чтобы логи уживались с readline-консолью), AttachFile включает
	// файловый лог с ротацией, когда он настроен.
	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if config.Env().LogFile != "" {
		logger.AttachFile(logger.FileOptions{
			Path:       config.Env().LogFile,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Собираем приложение и передаём ему контекст жизненного цикла и stop
	// как внешнюю CancelFunc.
	a := app.NewApp()
	if iniErr := a.Init(ctx, stop); iniErr != nil {
		stop()
		logger.Fatal("app init failed", zap.Error(iniErr))
	}

	// Запускаем основной цикл; блокируется до shutdown.
	if runErr := a.Run(); runErr != nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	stop()
	logger.Info("Graceful shutdown complete")
}
