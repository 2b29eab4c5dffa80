// Package app — верхний уровень сборки радара закупок. Здесь связываются
// конфигурация, хранилище bbolt, персистентные кэши, адаптеры внешних систем
// (лента zakupki.gov.ru, оракул релевантности, Telegram Bot API) и движок
// конвейера. Отсюда стартует цикл опроса и обеспечивается корректный shutdown.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"tender-radar/internal/adapters/oracle"
	"tender-radar/internal/adapters/telegram"
	"tender-radar/internal/adapters/zakupki"
	"tender-radar/internal/domain/delivery"
	"tender-radar/internal/domain/intents"
	"tender-radar/internal/domain/matching"
	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/quota"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/clock"
	"tender-radar/internal/infra/concurrency"
	"tender-radar/internal/infra/config"
	"tender-radar/internal/infra/db"
	"tender-radar/internal/infra/logger"
	"tender-radar/internal/infra/throttle"
)

// Имена персистентных кэшей в общем bbolt-файле.
const (
	cacheKindEnrichment = "enrichment"
	cacheKindOracle     = "oracle"
)

// journalFileName — журнал постоянных отказов доставки; лежит рядом с базой.
const journalFileName = "failed-deliveries.json"

// App агрегирует зависимости радара и управляет их связью.
// Отвечает за:
//   - открытие единого bbolt-файла и создание персистентных кэшей,
//   - сборку хранилищ (подписчики, квоты, журнал доставки),
//   - сборку адаптеров (лента, оракул, транспорт уведомлений),
//   - конструирование движка конвейера и джобы обслуживания интентов,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context    // Контекст жизненного цикла приложения.
	mainCancel context.CancelFunc // Инициирует отмену mainCtx.

	handle      *bbolt.DB           // Единый bbolt-файл: журнал, квоты, кэши, подписчики.
	enrichCache *cache.Store        // Кэш обогащённых карточек между циклами.
	oracleCache *cache.Store        // Кэш вердиктов оракула.
	subs        *subscribers.Store  // Подписчики и их фильтры.
	quota       *quota.Gate         // Суточные лимиты по тарифам.
	ledger      *delivery.Ledger    // Идемпотентность доставки.
	journal     *delivery.Journal   // Журнал постоянных отказов.
	feedThrott  *throttle.Throttler // Токен-бакет обращений к порталу.
	feed        *zakupki.Client     // Источник кандидатов.
	oracle      *oracle.Oracle      // Оракул релевантности; nil без API-ключа.
	sink        *telegram.Sender    // Транспорт уведомлений.
	engine      *pipeline.Engine    // Движок конвейера.
	intentsJob  *intents.Job        // Регенерация интентов фильтров.
	runner      *Runner             // Оркестратор жизненного цикла и CLI.
}

// NewApp создаёт пустой каркас приложения. Фактическая инициализация
// выполняется в Init().
func NewApp() *App {
	return &App{}
}

// Init собирает все зависимости радара в порядке «хранилище → домены →
// адаптеры → движок». Ошибка любого шага фатальна: без базы или транспорта
// радару нечего делать.
func (a *App) Init(mainCtx context.Context, mainCancel context.CancelFunc) error {
	a.mainCtx = mainCtx
	a.mainCancel = mainCancel

	env := config.Env()
	loc := config.AppLocation

	// 1) Единое хранилище: журнал доставки, квоты, кэши и подписчики живут
	// в одном файле, чтобы бэкап был атомарным.
	handle, err := db.Open(env.DBFile)
	if err != nil {
		return fmt.Errorf("open database %s: %w", env.DBFile, err)
	}
	a.handle = handle

	a.enrichCache, err = cache.New(handle, cacheKindEnrichment, time.Duration(env.EnrichCacheTTLHr)*time.Hour)
	if err != nil {
		return fmt.Errorf("init enrichment cache: %w", err)
	}
	a.oracleCache, err = cache.New(handle, cacheKindOracle, time.Duration(env.OracleCacheTTLHr)*time.Hour)
	if err != nil {
		return fmt.Errorf("init oracle cache: %w", err)
	}

	// 2) Доменные хранилища.
	a.subs, err = subscribers.NewStore(handle)
	if err != nil {
		return fmt.Errorf("init subscribers store: %w", err)
	}
	a.quota, err = quota.NewGate(handle, loc)
	if err != nil {
		return fmt.Errorf("init quota gate: %w", err)
	}
	a.ledger, err = delivery.NewLedger(handle, a.subs)
	if err != nil {
		return fmt.Errorf("init delivery ledger: %w", err)
	}
	a.journal, err = delivery.NewJournal(filepath.Join(filepath.Dir(env.DBFile), journalFileName))
	if err != nil {
		return fmt.Errorf("init failure journal: %w", err)
	}

	// 3) Адаптеры внешних систем. Троттлер портала общий для ленты и
	// детальных страниц: порталу всё равно, какой именно запрос частит.
	a.feedThrott = throttle.New(env.FeedRPS,
		throttle.WithWaitExtractors(zakupki.RetryAfterExtractor()),
	)
	a.feed, err = zakupki.New(zakupki.Options{
		BaseURL:     env.FeedBaseURL,
		HTTPTimeout: time.Duration(env.HTTPTimeoutSec) * time.Second,
		Throttler:   a.feedThrott,
		Cache:       a.enrichCache,
		MaxResults:  env.MaxCandidates,
		Location:    loc,
	})
	if err != nil {
		return fmt.Errorf("init feed client: %w", err)
	}

	// Оракул опционален: без ключа конвейер работает на одном матчере,
	// а интенты собираются детерминированно.
	if env.OpenAIKey != "" {
		a.oracle, err = oracle.New(oracle.Options{
			Token: env.OpenAIKey,
			Model: env.OpenAIModel,
			RPS:   env.OracleRPS,
			Cache: a.oracleCache,
		})
		if err != nil {
			return fmt.Errorf("init relevance oracle: %w", err)
		}
	} else {
		logger.Warn("Оракул релевантности отключён: OPENAI_API_KEY не задан")
	}

	a.sink, err = telegram.New(telegram.Options{
		Token:       env.BotToken,
		RPS:         env.TelegramRPS,
		HTTPTimeout: time.Duration(env.HTTPTimeoutSec) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init telegram sender: %w", err)
	}

	// 4) Движок конвейера. Окно подавителя повторов равно интервалу цикла:
	// кандидат, оценённый в этом цикле, не пересчитывается до обновления ленты.
	opts := pipeline.Options{
		Subscribers: a.subs,
		Matcher:     matching.New(matching.Policy(env.NullRegionPolicy)),
		Quota:       a.quota,
		Ledger:      a.ledger,
		Journal:     a.journal,
		Feed:        a.feed,
		Sink:        a.sink,
		Suppressor:  concurrency.NewSuppressor(env.PollIntervalSec),

		PollInterval:   time.Duration(env.PollIntervalSec) * time.Second,
		PreNotifyScore: env.PreNotifyScore,
		MinNotifyScore: env.MinNotifyScore,
		FilterWorkers:  env.FilterParallelism,
		EnrichPerBatch: env.EnrichPerFilter,
		EnrichGlobal:   env.EnrichGlobal,
		MaxCandidates:  env.MaxCandidates,
		ArchiveAge:     time.Duration(env.ArchiveAgeDays) * 24 * time.Hour,

		Location: loc,
		Clock:    clock.Now,
	}
	if a.oracle != nil {
		opts.Oracle = a.oracle
	}
	a.engine, err = pipeline.New(opts)
	if err != nil {
		return fmt.Errorf("init pipeline engine: %w", err)
	}

	// 5) Обслуживание интентов: без оракула джоба откатывается на
	// детерминированную сборку интента из входов фильтра.
	var gen intents.Generator
	if a.oracle != nil {
		gen = a.oracle
	}
	a.intentsJob = intents.NewJob(a.subs, gen)

	a.runner = NewRunner(a)
	return nil
}

// Run запускает основной цикл радара. Блокируется до остановки приложения
// и возвращает ошибку, если что-то пошло не так.
func (a *App) Run() error {
	if a.runner == nil {
		return fmt.Errorf("app is not initialized")
	}
	return a.runner.Run()
}
