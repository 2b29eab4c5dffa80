// Package app, файл runner.go — точка оркестрации жизненного цикла радара:
// здесь сервисы запускаются в правильном порядке (троттлер портала → движок
// конвейера → планировщик обслуживания → консоль оператора) и гасятся в
// обратном, чтобы незавершённые резервирования успели подтвердиться или
// сняться до закрытия базы.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tender-radar/internal/adapters/cli"
	"tender-radar/internal/domain/commands"
	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/config"
	"tender-radar/internal/infra/logger"
)

const (
	// engineStopTimeout ограничивает ожидание дренажа движка: к этому
	// моменту каждое резервирование подтверждено или снято.
	engineStopTimeout = 30 * time.Second
	// cronStopTimeout ограничивает ожидание уже запущенных джоб планировщика.
	cronStopTimeout = 10 * time.Second
	// sweepSpec — расписание уборки: зависшие tentative-резервирования и
	// протухшие записи кэшей выметаются раз в час.
	sweepSpec = "@hourly"
)

// Runner инкапсулирует сценарий запуска и остановки радара. Отвечает за:
//   - линейный запуск сервисов в правильном порядке,
//   - планировщик обслуживания (регенерация интентов, уборка хранилищ),
//   - корректное завершение: сначала консоль и планировщик, затем движок,
//     троттлер и только в конце — база.
type Runner struct {
	app         *App
	cmdExecutor commands.Executor // Исполнитель команд (используется CLI и планировщиком).
	cliService  *cli.Service      // Консоль оператора.
	cron        *cron.Cron        // Планировщик обслуживания.
	intentsWG   sync.WaitGroup    // Стартовый прогон интентов в фоне.
}

// NewRunner подготавливает Runner поверх собранного App.
func NewRunner(a *App) *Runner {
	return &Runner{app: a}
}

// Run — главный цикл радара. Запускает сервисы, блокируется до отмены
// корневого контекста и выполняет остановку в обратном порядке.
func (r *Runner) Run() error {
	var shutdownWG sync.WaitGroup

	shutdownWG.Go(func() {
		<-r.app.mainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
	})

	if err := r.startAllServices(r.app.mainCtx); err != nil {
		r.app.mainCancel()
		shutdownWG.Wait()
		return err
	}

	logger.Infof("Радар запущен: интервал опроса %d с, база %s",
		config.Env().PollIntervalSec, config.Env().DBFile)

	<-r.app.mainCtx.Done()
	shutdownWG.Wait()
	return nil
}

func (r *Runner) startAllServices(ctx context.Context) error {
	// throttler: все обращения к порталу идут через общий токен-бакет.
	logger.Debug("starting service feed_throttler")
	r.app.feedThrott.Start(ctx)
	logger.Debug("service feed_throttler started")

	// pipeline_engine
	logger.Debug("starting service pipeline_engine")
	r.app.engine.Start(ctx)
	logger.Debug("service pipeline_engine started")

	// command executor
	logger.Debug("initializing command executor")
	r.cmdExecutor = commands.NewExecutor(
		r.app.engine,
		r.app.subs,
		r.app.ledger,
		r.app.journal,
		[]*cache.Store{r.app.enrichCache, r.app.oracleCache},
		time.Duration(config.Env().PollIntervalSec)*time.Second,
		config.AppLocation,
	)
	logger.Debug("command executor initialized")

	// maintenance_cron: регенерация интентов по расписанию + почасовая уборка.
	logger.Debug("starting service maintenance_cron")
	r.cron = cron.New(cron.WithLocation(config.AppLocation))
	if _, err := r.cron.AddFunc(config.Env().IntentsCron, func() {
		stats, err := r.app.intentsJob.Run(ctx)
		if err != nil {
			logger.Errorf("Intents: прогон прерван: %v", err)
			return
		}
		if stats.Processed > 0 {
			logger.Infof("Intents: по расписанию обработано %d фильтров", stats.Processed)
		}
	}); err != nil {
		return err
	}
	if _, err := r.cron.AddFunc(sweepSpec, func() {
		// Пока движок не в покое, tentative-строки могут принадлежать
		// отправкам, стоящим в очереди пейсинга. Уборка их не трогает.
		if st := r.app.engine.Status(); st.State != pipeline.StateIdle {
			logger.Debugf("Sweep: движок в состоянии %s, уборка отложена", st.State)
			return
		}
		result, err := r.cmdExecutor.Sweep(ctx)
		if err != nil {
			logger.Errorf("Sweep: уборка не удалась: %v", err)
			return
		}
		if result.Tentative > 0 {
			logger.Infof("Sweep: снято зависших резервирований: %d", result.Tentative)
		}
	}); err != nil {
		return err
	}
	r.cron.Start()
	logger.Debug("service maintenance_cron started")

	// Стартовый прогон интентов в фоне: фильтры, созданные за время простоя,
	// получают интент до того, как придёт срок планового прогона.
	r.intentsWG.Go(func() {
		if _, err := r.app.intentsJob.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warnf("Intents: стартовый прогон прерван: %v", err)
		}
	})

	// cli
	logger.Debug("starting service cli")
	r.cliService = cli.NewService(r.cmdExecutor, r.app.mainCancel)
	r.cliService.Start(ctx)
	logger.Debug("service cli started")

	return nil
}

func (r *Runner) stopAllServices() {
	// Останавливаем в обратном порядке.

	// cli
	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}

	// maintenance_cron
	if r.cron != nil {
		logger.Debug("stopping service maintenance_cron")
		stopCtx := r.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(cronStopTimeout):
			logger.Warn("maintenance_cron: джобы не завершились за отведённое время")
		}
		logger.Debug("service maintenance_cron stopped")
	}
	r.intentsWG.Wait()

	// pipeline_engine: дожидаемся дренажа, незавершённые резервирования
	// к этому моменту подтверждены или сняты.
	logger.Debug("stopping service pipeline_engine")
	drainCtx, cancel := context.WithTimeout(context.Background(), engineStopTimeout)
	if err := r.app.engine.Stop(drainCtx); err != nil {
		logger.Errorf("stop pipeline_engine: %v", err)
	}
	cancel()
	logger.Debug("service pipeline_engine stopped")

	// feed_throttler
	logger.Debug("stopping service feed_throttler")
	r.app.feedThrott.Stop()
	logger.Debug("service feed_throttler stopped")

	// database — строго последней: движок и джобы уже не пишут.
	logger.Debug("closing database")
	if err := r.app.handle.Close(); err != nil {
		logger.Errorf("close database: %v", err)
	}
	logger.Debug("database closed")
}
