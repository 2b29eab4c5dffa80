// Пакет config отвечает за сбор и предоставление конфигурации радара закупок.
// Он:
//  1. читает переменные окружения из .env (через godotenv),
//  2. нормализует и валидирует входные значения,
//  3. накапливает предупреждения о подставленных дефолтах,
//  4. предоставляет потокобезопасный доступ к результату через singleton.
//
// Бизнес-контекст: конфиг среды управляет подключением к Telegram Bot API и
// OpenAI, адресом RSS-ленты zakupki.gov.ru, периодом опроса, лимитами
// параллелизма конвейера, порогами скоринга, путём к bbolt-базе и логированием.
// Подписчики и их фильтры живут в базе, а не в окружении.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"tender-radar/internal/infra/timeutil"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// EnvConfig описывает параметры, приходящие из окружения (.env). Это
// «операционные» настройки запуска: токены, адрес ленты, периоды, лимиты
// скоростей и параллелизма, пороги каскада, файлы данных и логов.
//
// NB: значения уже прошли минимальную валидацию и нормализацию в loadConfig.
// В рантайме по месту использования предполагается, что EnvConfig последователен.
type EnvConfig struct {
	// Telegram Bot API
	BotToken string
	AdminUID int64

	// Оракул релевантности (OpenAI)
	OpenAIKey        string
	OpenAIModel      string
	OracleRPS        int
	OracleCacheTTLHr int

	// Лента закупок zakupki.gov.ru
	FeedBaseURL     string
	PollIntervalSec int
	HTTPTimeoutSec  int
	FeedRPS         int
	MaxCandidates   int
	ArchiveAgeDays  int
	EnrichCacheTTLHr int

	// Пороги каскада скоринга
	PreNotifyScore   int
	MinNotifyScore   int
	NullRegionPolicy string

	// Параллелизм конвейера
	FilterParallelism int
	EnrichPerFilter   int
	EnrichGlobal      int

	// Доставка
	TelegramRPS int

	// Обслуживание поисковых интентов (cron-расписание)
	IntentsCron string

	// Хранилище
	DBFile string

	LogLevel    string
	AppTimezone string

	// Файловое логирование
	LogFile           string
	LogFileLevel      string
	LogFileMaxSize    int
	LogFileMaxBackups int
	LogFileMaxAge     int
	LogFileCompress   bool
}

// Config хранит конфигурацию среды.
//
// Потокобезопасность: Load держит эксклюзивный Lock на время загрузки,
// геттеры читают уже неизменяемый снимок.
type Config struct {
	Env      EnvConfig
	warnings []string     // предупреждения, накопленные при чтении окружения
	mu       sync.RWMutex // защита конкурентного доступа к конфигурации
}

// Значения по умолчанию для параметров окружения и связанных файлов.
const (
	defaultLogLevel    = "info"
	defaultAppTimezone = "Europe/Moscow"

	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOracleRPS        = 1
	defaultOracleCacheTTLHr = 24

	defaultFeedBaseURL      = "https://zakupki.gov.ru/epz/order/extendedsearch/rss.html"
	defaultPollIntervalSec  = 300
	defaultHTTPTimeoutSec   = 10
	defaultFeedRPS          = 1
	defaultMaxCandidates    = 50
	defaultArchiveAgeDays   = 90
	defaultEnrichCacheTTLHr = 168

	defaultPreNotifyScore   = 30
	defaultMinNotifyScore   = 35
	defaultNullRegionPolicy = "penalize"

	defaultFilterParallelism = 4
	defaultEnrichPerFilter   = 8
	defaultEnrichGlobal      = 16

	defaultTelegramRPS = 1

	defaultIntentsCron = "30 3 * * *"

	defaultDBFile = "data/tender-radar.bbolt"

	// Файловое логирование (LOG_FILE не имеет дефолта: файл активируется только явно)
	defaultLogFileLevel      = "debug"
	defaultLogFileMaxSize    = 50
	defaultLogFileMaxBackups = 3
	defaultLogFileMaxAge     = 7
	defaultLogFileCompress   = true
)

var (
	cfgInstance *Config
	cfgDone     bool
)

// AppLocation — часовая зона приложения; фиксируется при загрузке конфига
// и используется clock.Now() для всех отметок времени.
var AppLocation *time.Location

// Load — точка входа для инициализации глобальной конфигурации приложения.
// При первом вызове читает .env, формирует EnvConfig и фиксирует результат
// в singleton. Повторный вызов запрещён (возвращается ошибка), чтобы не
// ловить гонки конфигурации на старте.
func Load(envPath string) error {
	if cfgDone {
		return errors.New("config already loaded")
	}
	if cfgInstance == nil {
		cfgInstance = &Config{}
	}
	cfgInstance.mu.Lock()
	defer cfgInstance.mu.Unlock()
	newCfg, err := loadConfig(envPath)
	cfgInstance = newCfg
	cfgDone = true
	return err
}

// loadConfig выполняет фактическую загрузку и валидацию без установки
// глобального состояния. Удобно для тестов.
func loadConfig(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	botToken := strings.TrimSpace(os.Getenv("BOT_TOKEN"))
	if botToken == "" {
		return nil, errors.New("env BOT_TOKEN must be set")
	}

	var warnings []string

	adminUID := parseInt64Default("ADMIN_UID", 0, &warnings)
	logLevel := sanitizeLogLevel(os.Getenv("LOG_LEVEL"), defaultLogLevel, &warnings)
	appTimezone := sanitizeTimezoneFlexible(os.Getenv("APP_TIMEZONE"), defaultAppTimezone, &warnings)

	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if openAIKey == "" {
		appendWarningf(&warnings, "env OPENAI_API_KEY is not set; relevance oracle is disabled")
	}
	openAIModel := sanitizeValue("OPENAI_MODEL", os.Getenv("OPENAI_MODEL"), defaultOpenAIModel, &warnings)
	oracleRPS := parseIntDefault("ORACLE_RPS", defaultOracleRPS, greaterThanZero, &warnings)
	oracleCacheTTL := parseIntDefault("ORACLE_CACHE_TTL_HOURS", defaultOracleCacheTTLHr, greaterThanZero, &warnings)

	feedBaseURL := sanitizeValue("FEED_BASE_URL", os.Getenv("FEED_BASE_URL"), defaultFeedBaseURL, &warnings)
	pollInterval := parseIntDefault("POLL_INTERVAL_SEC", defaultPollIntervalSec, greaterThanZero, &warnings)
	httpTimeout := parseIntDefault("HTTP_TIMEOUT_SEC", defaultHTTPTimeoutSec, greaterThanZero, &warnings)
	feedRPS := parseIntDefault("FEED_RPS", defaultFeedRPS, greaterThanZero, &warnings)
	maxCandidates := parseIntDefault("MAX_CANDIDATES_PER_FILTER", defaultMaxCandidates, greaterThanZero, &warnings)
	archiveAgeDays := parseIntDefault("ARCHIVE_AGE_DAYS", defaultArchiveAgeDays, greaterThanZero, &warnings)
	enrichCacheTTL := parseIntDefault("ENRICH_CACHE_TTL_HOURS", defaultEnrichCacheTTLHr, greaterThanZero, &warnings)

	preNotifyScore := parseIntDefault("PRE_NOTIFY_SCORE", defaultPreNotifyScore, scoreRange, &warnings)
	minNotifyScore := parseIntDefault("MIN_SCORE_FOR_NOTIFICATION", defaultMinNotifyScore, scoreRange, &warnings)
	nullRegionPolicy := sanitizeChoice("NULL_REGION_POLICY", os.Getenv("NULL_REGION_POLICY"),
		[]string{"pass", "penalize", "reject"}, defaultNullRegionPolicy, &warnings)

	filterParallelism := parseIntDefault("FILTER_PARALLELISM", defaultFilterParallelism, greaterThanZero, &warnings)
	enrichPerFilter := parseIntDefault("ENRICH_PER_FILTER", defaultEnrichPerFilter, greaterThanZero, &warnings)
	enrichGlobal := parseIntDefault("ENRICH_GLOBAL", defaultEnrichGlobal, greaterThanZero, &warnings)

	telegramRPS := parseIntDefault("TELEGRAM_RPS", defaultTelegramRPS, greaterThanZero, &warnings)

	intentsCron := sanitizeCron("INTENTS_CRON", os.Getenv("INTENTS_CRON"), defaultIntentsCron, &warnings)

	dbFile := sanitizeValue("DB_FILE", os.Getenv("DB_FILE"), defaultDBFile, &warnings)

	logFile := strings.TrimSpace(os.Getenv("LOG_FILE"))
	logFileLevel := sanitizeLogLevel(os.Getenv("LOG_FILE_LEVEL"), defaultLogFileLevel, &warnings)
	logFileMaxSize := parseIntDefault("LOG_FILE_MAX_SIZE_MB", defaultLogFileMaxSize, greaterThanZero, &warnings)
	logFileMaxBackups := parseIntDefault("LOG_FILE_MAX_BACKUPS", defaultLogFileMaxBackups, nonNegative, &warnings)
	logFileMaxAge := parseIntDefault("LOG_FILE_MAX_AGE_DAYS", defaultLogFileMaxAge, nonNegative, &warnings)
	logFileCompress := parseBoolDefault("LOG_FILE_COMPRESS", defaultLogFileCompress, &warnings)

	var err error
	AppLocation, err = timeutil.ParseLocation(appTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid APP_TIMEZONE %q: %w", appTimezone, err)
	}

	env := EnvConfig{
		BotToken: botToken,
		AdminUID: adminUID,

		OpenAIKey:        openAIKey,
		OpenAIModel:      openAIModel,
		OracleRPS:        oracleRPS,
		OracleCacheTTLHr: oracleCacheTTL,

		FeedBaseURL:      feedBaseURL,
		PollIntervalSec:  pollInterval,
		HTTPTimeoutSec:   httpTimeout,
		FeedRPS:          feedRPS,
		MaxCandidates:    maxCandidates,
		ArchiveAgeDays:   archiveAgeDays,
		EnrichCacheTTLHr: enrichCacheTTL,

		PreNotifyScore:   preNotifyScore,
		MinNotifyScore:   minNotifyScore,
		NullRegionPolicy: nullRegionPolicy,

		FilterParallelism: filterParallelism,
		EnrichPerFilter:   enrichPerFilter,
		EnrichGlobal:      enrichGlobal,

		TelegramRPS: telegramRPS,

		IntentsCron: intentsCron,

		DBFile: dbFile,

		LogLevel:    logLevel,
		AppTimezone: appTimezone,

		LogFile:           logFile,
		LogFileLevel:      logFileLevel,
		LogFileMaxSize:    logFileMaxSize,
		LogFileMaxBackups: logFileMaxBackups,
		LogFileMaxAge:     logFileMaxAge,
		LogFileCompress:   logFileCompress,
	}

	return &Config{Env: env, warnings: warnings}, nil
}

// Warnings возвращает накопленные предупреждения, возникшие при загрузке .env
// (например, когда подставлено значение по умолчанию). Возвращается копия.
func Warnings() []string {
	cfgInstance.mu.RLock()
	defer cfgInstance.mu.RUnlock()
	result := make([]string, len(cfgInstance.warnings))
	copy(result, cfgInstance.warnings)
	return result
}

// Env возвращает EnvConfig из глобального singleton. Это неизменяемый снимок
// на момент загрузки; для обновления надо перезапустить процесс.
func Env() EnvConfig {
	return cfgInstance.Env
}

// parseIntDefault читает name как int. Если пусто/некорректно/не проходит
// дополнительную проверку validator — возвращает defaultVal и пишет предупреждение.
// Это позволяет не падать на несущественных настройках и иметь дефолты.
func parseIntDefault(name string, defaultVal int, validator func(int) bool, warnings *[]string) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	if validator != nil && !validator(v) {
		appendWarningf(warnings, "env %s value %d does not satisfy constraints; using default %d", name, v, defaultVal)
		return defaultVal
	}
	return v
}

// parseInt64Default читает name как int64 (идентификаторы Telegram не влезают в int32).
func parseInt64Default(name string, defaultVal int64, warnings *[]string) int64 {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %d", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid integer; using default %d", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// parseBoolDefault читает name как bool. Если пусто/некорректно — возвращает defaultVal.
func parseBoolDefault(name string, defaultVal bool, warnings *[]string) bool {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		appendWarningf(warnings, "env %s is not set; using default %v", name, defaultVal)
		return defaultVal
	}
	v, err := strconv.ParseBool(value)
	if err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid boolean; using default %v", name, value, defaultVal)
		return defaultVal
	}
	return v
}

// appendWarningf — служебная функция для накопления предупреждений о некорректных
// переменных окружения. Список затем доступен через Warnings().
func appendWarningf(warnings *[]string, format string, args ...any) {
	if warnings == nil {
		return
	}
	*warnings = append(*warnings, fmt.Sprintf(format, args...))
}

// Простые валидаторы чисел для parseIntDefault: навязывают смысловые
// ограничения без падения приложения.
func greaterThanZero(v int) bool { return v > 0 }
func nonNegative(v int) bool     { return v >= 0 }
func scoreRange(v int) bool      { return v >= 0 && v <= 100 }

// sanitizeLogLevel нормализует уровень логирования и ограничивает значения
// набором {debug, info, warn, error}. Всё остальное превращается в defaultVal.
func sanitizeLogLevel(level string, defaultVal string, warnings *[]string) string {
	lvl := strings.ToLower(strings.TrimSpace(level))
	if lvl == "" {
		appendWarningf(warnings, "env LOG_LEVEL is not set; using default %q", defaultVal)
		return defaultVal
	}
	switch lvl {
	case "debug", "info", "warn", "error":
		return lvl
	default:
		appendWarningf(warnings, "env LOG_LEVEL value %q is invalid; using default %q", level, defaultVal)
		return defaultVal
	}
}

// sanitizeValue возвращает непустое значение переменной окружения. Если
// переменная не задана, подставляет fallback и пишет предупреждение.
func sanitizeValue(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	return v
}

// sanitizeChoice ограничивает значение фиксированным набором вариантов.
// Сравнение без учёта регистра; вне набора — fallback с предупреждением.
func sanitizeChoice(name, value string, allowed []string, fallback string, warnings *[]string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	appendWarningf(warnings, "env %s value %q is invalid (allowed: %s); using default %q",
		name, value, strings.Join(allowed, ", "), fallback)
	return fallback
}

// sanitizeTimezoneFlexible проверяет, что значение — корректная IANA-зона или
// UTC-смещение. При неудаче возвращает fallback и добавляет предупреждение.
func sanitizeTimezoneFlexible(value string, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env APP_TIMEZONE is not set; using default %q", fallback)
		return fallback
	}
	if _, err := timeutil.ParseLocation(v); err != nil {
		appendWarningf(warnings, "timezone %q is invalid; using default %q", v, fallback)
		return fallback
	}
	return v
}

// sanitizeCron проверяет cron-выражение стандартным парсером robfig/cron.
// Невалидное расписание заменяется на fallback с предупреждением.
func sanitizeCron(name, value, fallback string, warnings *[]string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		appendWarningf(warnings, "env %s is not set; using default %q", name, fallback)
		return fallback
	}
	if _, err := cron.ParseStandard(v); err != nil {
		appendWarningf(warnings, "env %s value %q is not a valid cron spec; using default %q", name, v, fallback)
		return fallback
	}
	return v
}
