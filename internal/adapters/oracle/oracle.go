// Package oracle — семантическая сверка закупки с интентом фильтра через
// OpenAI-совместимый chat-completions API.
//
// Оракул дополняет сигнатурный скоринг, но не подменяет его: вердикт с
// уверенностью 0–100 даёт надбавку к композитному скору и никогда не вето.
// Вердикты кэшируются по паре (номер закупки, версия интента) — пока входы
// матчинга фильтра не менялись, повторные опросы не нужны. Транспортные сбои
// гасятся предохранителем и превращаются конвейером в UNKNOWN: без оракула
// система продолжает работать на одном скоринге.
//
// Файлы пакета:
//   - oracle.go    — клиент, предохранитель, вердикт релевантности;
//   - generator.go — генерация интента и расширение ключевых слов.
package oracle

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/tender"
	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/logger"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultTemperature = 0.3
	defaultRPS         = 1
	defaultHTTPTimeout = 30 * time.Second

	assessMaxTokens = 150
	intentMaxTokens = 300
	expandMaxTokens = 1000

	// Предохранитель: после breakerFailures подряд неудачных вызовов цепь
	// размыкается на breakerCooldown, и Assess сразу отдаёт UNKNOWN.
	breakerFailures = 5
	breakerCooldown = 2 * time.Minute
)

// reJSONBlock вырезает JSON-объект из ответа модели: несмотря на «СТРОГО
// JSON» в промпте, модели любят обрамлять ответ текстом или markdown-блоком.
var reJSONBlock = regexp.MustCompile(`\{[\s\S]*\}`)

// Options — параметры оракула. Обязателен только Token; BaseURL позволяет
// подставить совместимый API (прокси, локальную модель), Cache — общий
// персистентный кэш вердиктов.
type Options struct {
	Token       string
	BaseURL     string
	Model       string
	Temperature float32
	RPS         int
	HTTPTimeout time.Duration
	Cache       *cache.Store
}

// Oracle — клиент оракула релевантности. Реализует pipeline.RelevanceOracle
// и intents.Generator.
type Oracle struct {
	client      *openai.Client
	model       string
	temperature float32
	cache       *cache.Store
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
}

var _ pipeline.RelevanceOracle = (*Oracle)(nil)

// New создаёт оракула. Пустой токен — ошибка: без ключа оракула приложение
// собирается вовсе без этого адаптера, а не с нерабочим.
func New(opts Options) (*Oracle, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("oracle: api token is empty")
	}
	model := opts.Model
	if model == "" {
		model = defaultModel
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	cfg := openai.DefaultConfig(opts.Token)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	return &Oracle{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
		cache:       opts.Cache,
		limiter:     rate.NewLimiter(rate.Limit(rps), rps),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "relevance-oracle",
			Timeout: breakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= breakerFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnf("Oracle: предохранитель %s: %s → %s", name, from, to)
			},
		}),
	}, nil
}

// storedVerdict — кэшируемая форма вердикта. Reason хранится для оператора,
// в надбавке не участвует.
type storedVerdict struct {
	Confidence int    `json:"confidence"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason,omitempty"`
}

// PeekVerdict возвращает вердикт из кэша, не обращаясь к модели. Конвейер
// зовёт его до списания квоты: закэшированный вердикт бесплатен и доступен
// даже подписчику с исчерпанным лимитом оракула.
func (o *Oracle) PeekVerdict(t *tender.Enriched, intent pipeline.Intent) (pipeline.Verdict, bool) {
	if t == nil || o.cache == nil {
		return pipeline.Unknown(), false
	}
	var saved storedVerdict
	ok, err := o.cache.Get(verdictKey(t.Number, intent.Version), &saved)
	if err != nil {
		logger.Warnf("Oracle: кэш вердиктов недоступен: %v", err)
		return pipeline.Unknown(), false
	}
	if !ok {
		return pipeline.Unknown(), false
	}
	return pipeline.Verdict{Confidence: saved.Confidence, Decision: pipeline.Decision(saved.Decision)}, true
}

// Assess сверяет закупку с интентом фильтра. Ошибка (транспорт, разомкнутый
// предохранитель, лимитер при отменённом контексте) отдаётся вместе с
// вердиктом UNKNOWN — такой вердикт не кэшируется и надбавки не даёт.
// Неразборчивый ответ модели — это вердикт REJECT с нулевой уверенностью:
// модель отвечала, просто мимо контракта, и переспрашивать её смысла нет.
func (o *Oracle) Assess(ctx context.Context, t *tender.Enriched, intent pipeline.Intent) (pipeline.Verdict, error) {
	if t == nil {
		return pipeline.Unknown(), errors.New("oracle: tender is nil")
	}

	if verdict, ok := o.PeekVerdict(t, intent); ok {
		return verdict, nil
	}

	reply, err := o.breaker.Execute(func() (any, error) {
		return o.complete(ctx, assessPrompt(t, intent), assessMaxTokens)
	})
	if err != nil {
		return pipeline.Unknown(), errors.Wrap(err, "oracle: assess")
	}

	verdict, reason := parseVerdict(reply.(string))
	logger.Debugf("Oracle: %s → %s (%d): %s", t.Number, verdict.Decision, verdict.Confidence, reason)

	if o.cache != nil {
		saved := storedVerdict{
			Confidence: verdict.Confidence,
			Decision:   string(verdict.Decision),
			Reason:     reason,
		}
		if err := o.cache.Set(verdictKey(t.Number, intent.Version), saved); err != nil {
			logger.Warnf("Oracle: вердикт по %s не закэширован: %v", t.Number, err)
		}
	}
	return verdict, nil
}

// complete выполняет один chat-completion с общим пейсингом. Лимитер стоит
// внутри предохранителя: разомкнутая цепь не тратит слоты пейсинга.
func (o *Oracle) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("oracle: empty completion")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// verdictPayload — контракт ответа модели на проверку релевантности.
type verdictPayload struct {
	Relevant   bool   `json:"relevant"`
	Confidence int    `json:"confidence"`
	Reason     string `json:"reason"`
}

const verdictUnparsed = "ответ модели не разобран"

func parseVerdict(reply string) (pipeline.Verdict, string) {
	block := reJSONBlock.FindString(reply)
	if block == "" {
		logger.Warnf("Oracle: в ответе модели нет JSON: %s", truncateRunes(reply, 120))
		return pipeline.Verdict{Confidence: 0, Decision: pipeline.DecisionReject}, verdictUnparsed
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(block), &payload); err != nil {
		logger.Warnf("Oracle: ответ модели не разобран: %v", err)
		return pipeline.Verdict{Confidence: 0, Decision: pipeline.DecisionReject}, verdictUnparsed
	}

	confidence := payload.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 100 {
		confidence = 100
	}
	// Флаг relevant главнее числа: уверенное «нет» — это отказ, а не надбавка.
	if !payload.Relevant && confidence > 10 {
		confidence = 10
	}
	return pipeline.Verdict{Confidence: confidence, Decision: pipeline.DecisionFor(confidence)}, strings.TrimSpace(payload.Reason)
}

// assessPrompt собирает промпт проверки: интент фильтра, карточка закупки и
// принцип оценки. Ключевые слова и тип закупок отдельно не передаются — они
// уже входят в текст интента.
func assessPrompt(t *tender.Enriched, intent pipeline.Intent) string {
	var sb strings.Builder
	sb.WriteString("Ты эксперт по госзакупкам. Определи, насколько тендер релевантен запросу пользователя.\n\n")
	sb.WriteString("ЗАПРОС ПОЛЬЗОВАТЕЛЯ:\n")
	sb.WriteString(strings.TrimSpace(intent.Text))
	sb.WriteString("\n\nТЕНДЕР:\nНазвание: «")
	sb.WriteString(strings.TrimSpace(t.Title))
	sb.WriteString("»")
	if summary := truncateRunes(t.Summary, 500); summary != "" {
		sb.WriteString("\nОписание: ")
		sb.WriteString(summary)
	}
	sb.WriteString("\n\nПРИНЦИП ОЦЕНКИ:\n")
	sb.WriteString("1. Сначала проверь ТИП закупки: если запрос ищет товары, а тендер — услуга или работа (и наоборот), отклони с confidence 5-10.\n")
	sb.WriteString("2. Затем проверь ТЕМУ: связан ли тендер с запросом по смыслу.\n")
	sb.WriteString("3. При сомнениях по теме скорее одобряй с confidence 30-50.\n")
	sb.WriteString("4. Отклоняй по теме (confidence 5-10), только если тема СОВЕРШЕННО другая.\n\n")
	sb.WriteString("Ответь СТРОГО в формате JSON:\n")
	sb.WriteString(`{"relevant": true/false, "confidence": 0-100, "reason": "краткое объяснение на русском"}`)
	return sb.String()
}

// verdictKey — ключ кэша вердиктов: свёртка номера закупки и версии интента.
// Смена входов матчинга меняет версию и автоматически обесценивает кэш.
func verdictKey(number, version string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(number))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(version))
	return strconv.FormatUint(h.Sum64(), 16)
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
