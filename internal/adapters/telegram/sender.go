// Package telegram — транспорт доставки уведомлений через Telegram Bot API.
//
// Сендер шлёт карточки методом sendMessage поверх net/http: общий token
// bucket задаёт среднюю частоту запросов, а retry_after из ответов Bot API
// приостанавливает все отправки до конца объявленной паузы. Исход каждой
// попытки классифицируется для конвейера: доставлено, временный сбой
// (повтор в следующем цикле) или постоянный отказ (получатель недоступен).
//
// Файлы пакета:
//   - sender.go — HTTP-транспорт и классификация ошибок Bot API;
//   - card.go   — карточка закупки и сервисные сообщения.
package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/infra/logger"
)

const (
	defaultBaseURL     = "https://api.telegram.org"
	defaultRPS         = 1
	defaultHTTPTimeout = 30 * time.Second
)

// Options — параметры транспорта. Пустые поля закрываются значениями
// по умолчанию; BaseURL переопределяется только в тестах.
type Options struct {
	Token       string
	BaseURL     string
	RPS         int
	HTTPTimeout time.Duration
}

// Sender реализует pipeline.NotificationSink поверх Bot API.
//
// Поля:
//   - sendURL — конечная точка sendMessage для заданного бота;
//   - client  — HTTP-клиент с умеренным таймаутом;
//   - limiter — общий троттлер (token bucket);
//   - pausedUntil — граница паузы, объявленной через retry_after.
type Sender struct {
	sendURL string
	client  *http.Client
	limiter *rate.Limiter

	mu          sync.Mutex
	pausedUntil time.Time
}

var (
	_ pipeline.NotificationSink = (*Sender)(nil)
	_ pipeline.QuotaNoticer     = (*Sender)(nil)
)

// New создаёт транспорт для бота. Токен обязателен, остальное — умолчания.
func New(opts Options) (*Sender, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("telegram: bot token is empty")
	}
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = defaultRPS
	}
	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Sender{
		sendURL: strings.TrimRight(base, "/") + "/bot" + opts.Token + "/sendMessage",
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// Send доставляет карточку закупки в один чат. Любой не-sent исход
// сопровождается ошибкой с причиной для журнала конвейера.
func (s *Sender) Send(ctx context.Context, n pipeline.Notification) (pipeline.SendOutcome, error) {
	return s.deliver(ctx, n.ChatID, renderCard(n))
}

// SendQuotaNotice шлёт разовое сервисное сообщение об исчерпанном суточном
// лимите. Конвейер вызывает его вне учёта квоты.
func (s *Sender) SendQuotaNotice(ctx context.Context, sub *subscribers.Subscriber) error {
	outcome, err := s.deliver(ctx, sub.ChatID, renderQuotaNotice(sub))
	if outcome != pipeline.OutcomeSent {
		return err
	}
	return nil
}

// deliver выполняет одну отправку: токен лимитера, пауза retry_after,
// затем сам запрос.
func (s *Sender) deliver(ctx context.Context, chatID int64, text string) (pipeline.SendOutcome, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: limiter")
	}
	if err := s.waitPause(ctx); err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: retry_after pause")
	}
	return s.performSend(ctx, chatID, text)
}

// performSend делает POST form на /sendMessage и приводит ответ к исходу
// конвейера. Сетевые сбои и ошибки чтения тела — временные.
func (s *Sender) performSend(ctx context.Context, chatID int64, text string) (pipeline.SendOutcome, error) {
	params := url.Values{}
	params.Set("chat_id", strconv.FormatInt(chatID, 10))
	params.Set("text", text)
	params.Set("parse_mode", "HTML")
	params.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, strings.NewReader(params.Encode()))
	if err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: send")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return s.classifyHTTPError(resp, body)
	}
	return s.classifyAPIResponse(body)
}

// classifyHTTPError нормализует не-200 ответы: 429 — временный сбой с паузой
// из Retry-After, прочие 4xx — постоянный отказ, 5xx — временный.
func (s *Sender) classifyHTTPError(resp *http.Response, body []byte) (pipeline.SendOutcome, error) {
	status := resp.StatusCode
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests:
		s.pause(retryAfterDelay(resp.Header.Get("Retry-After"), body))
		return pipeline.OutcomeTransient, errors.Errorf("telegram: rate limit (%d): %s", status, msg)
	case status >= 400 && status < 500:
		return pipeline.OutcomePermanent, errors.Errorf("telegram: client error (%d): %s", status, msg)
	default:
		return pipeline.OutcomeTransient, errors.Errorf("telegram: server error (%d): %s", status, msg)
	}
}

// classifyAPIResponse разбирает JSON Bot API: ok=true — доставлено,
// 429 и упоминание retry_after — временный сбой, прочие 4xx — постоянный.
func (s *Sender) classifyAPIResponse(body []byte) (pipeline.SendOutcome, error) {
	var apiResp struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Parameters  struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return pipeline.OutcomeTransient, errors.Wrap(err, "telegram: decode response")
	}
	if apiResp.OK {
		return pipeline.OutcomeSent, nil
	}

	msg := strings.TrimSpace(apiResp.Description)
	if msg == "" {
		msg = "(empty bot api description)"
	}
	sendErr := errors.Errorf("telegram: bot api error %d: %s", apiResp.ErrorCode, msg)

	if apiResp.ErrorCode == http.StatusTooManyRequests {
		if apiResp.Parameters.RetryAfter > 0 {
			s.pause(time.Duration(apiResp.Parameters.RetryAfter) * time.Second)
		}
		return pipeline.OutcomeTransient, sendErr
	}
	if isPermanentBotError(apiResp.ErrorCode, apiResp.Description) {
		return pipeline.OutcomePermanent, sendErr
	}
	return pipeline.OutcomeTransient, sendErr
}

// pause продлевает общую паузу отправок до now+d. Короткая пауза не
// отменяет более длинную, уже объявленную.
func (s *Sender) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)

	s.mu.Lock()
	extended := until.After(s.pausedUntil)
	if extended {
		s.pausedUntil = until
	}
	s.mu.Unlock()

	if extended {
		logger.Warnf("Telegram: Bot API просит паузу %s", d)
	}
}

// waitPause ждёт конца объявленной паузы retry_after.
func (s *Sender) waitPause(ctx context.Context) error {
	s.mu.Lock()
	until := s.pausedUntil
	s.mu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfterDelay извлекает паузу из заголовка Retry-After либо из
// parameters.retry_after в JSON-теле.
func retryAfterDelay(header string, body []byte) time.Duration {
	if d := parseRetryAfterHeader(header); d > 0 {
		return d
	}
	return parseRetryAfterBody(body)
}

// parseRetryAfterHeader разбирает Retry-After: число секунд или абсолютную
// дату. Возвращает 0, если значение отсутствует или некорректно.
func parseRetryAfterHeader(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}

	if ts, err := http.ParseTime(value); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}

	return 0
}

// parseRetryAfterBody достаёт parameters.retry_after из JSON-тела.
// Ноль и отрицательные значения — как отсутствие.
func parseRetryAfterBody(body []byte) time.Duration {
	var payload struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	if payload.Parameters.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(payload.Parameters.RetryAfter) * time.Second
}

// isPermanentBotError: большинство 4xx Bot API — постоянные отказы, но 429
// и retry_after в описании сигнализируют о временном сбое.
func isPermanentBotError(code int, desc string) bool {
	if code == http.StatusTooManyRequests {
		return false
	}
	desc = strings.ToLower(desc)
	if strings.Contains(desc, "retry_after") || strings.Contains(desc, "retry after") {
		return false
	}
	return code >= 400 && code < 500
}
