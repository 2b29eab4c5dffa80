// Package zakupki реализует источник кандидатов поверх RSS-ленты расширенного
// поиска zakupki.gov.ru и детальных страниц извещений.
//
// Структура пакета:
//   - client.go — HTTP-клиент с троттлером, классификация ответов портала
//     на временные и постоянные ошибки, экстрактор Retry-After;
//   - query.go  — сборка параметров ленты из фильтра подписчика;
//   - feed.go   — загрузка и разбор RSS: номер, объект закупки, НМЦК,
//     заказчик, сроки, клиентская фильтрация по типу закупки;
//   - enrich.go — обогащение карточки детальной страницей: точная цена,
//     дедлайн, адрес и регион заказчика, подмена бюрократических названий.
//
// Портал капризен: лента отдаёт windows-1251, тип закупки для товаров врёт,
// детальные страницы периодически отвечают 5xx. Клиент обязан деградировать,
// а не падать: любой сбой обогащения заканчивается частичной карточкой.
package zakupki

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"tender-radar/internal/infra/cache"
	"tender-radar/internal/infra/throttle"
)

// defaultFeedURL — конечная точка RSS расширенного поиска.
const defaultFeedURL = "https://zakupki.gov.ru/epz/order/extendedsearch/rss.html"

// userAgent — без браузерного заголовка портал отдаёт заглушку вместо ленты.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// maxBodyBytes ограничивает чтение тела ответа: детальные страницы весят
// около мегабайта, всё сверх лимита — признак мусорного ответа.
const maxBodyBytes = 10 << 20

// defaultMaxResults — потолок записей на один опрос ленты.
const defaultMaxResults = 50

// defaultHTTPTimeout — жёсткий таймаут одного HTTP-запроса к порталу.
const defaultHTTPTimeout = 10 * time.Second

// Options — зависимости и настройки клиента. Обязателен только Throttler:
// все исходящие запросы идут через общий токен-бакет с ретраями.
type Options struct {
	// BaseURL — адрес RSS-ленты; пустое значение означает боевой портал.
	BaseURL string
	// HTTPTimeout — таймаут одного запроса; ноль — 10 секунд.
	HTTPTimeout time.Duration
	// Throttler ограничивает частоту обращений к порталу и ретраит сбои.
	Throttler *throttle.Throttler
	// Cache хранит обогащённые карточки между циклами; nil — без кэша.
	Cache *cache.Store
	// MaxResults — сколько записей максимум вернуть из одного опроса.
	MaxResults int
	// Location — зона разбора дат «дд.мм.гггг» из ленты и страниц.
	// Портал показывает время заказчика без смещения; nil — локальная зона.
	Location *time.Location
}

// Client опрашивает ленту и обогащает записи детальными страницами.
// Реализует контракт источника конвейера. Потокобезопасен: Enrich зовётся
// параллельно из воркеров обогащения.
type Client struct {
	baseURL    string
	http       *http.Client
	throttler  *throttle.Throttler
	cache      *cache.Store
	maxResults int
	loc        *time.Location
}

// New собирает клиента portal-ленты. Троттлер обязателен и должен быть
// запущен вызывающей стороной до первого опроса.
func New(opts Options) (*Client, error) {
	if opts.Throttler == nil {
		return nil, errors.New("zakupki: throttler is nil")
	}
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = defaultFeedURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.Wrap(err, "zakupki: bad base url")
	}

	timeout := opts.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	return &Client{
		baseURL:    base,
		http:       &http.Client{Timeout: timeout},
		throttler:  opts.Throttler,
		cache:      opts.Cache,
		maxResults: maxResults,
		loc:        loc,
	}, nil
}

// StatusError — не-200 ответ портала. Ошибки 4xx (кроме 429) постоянные:
// повторять запрос бессмысленно, троттлер прекращает ретраи через StopRetry.
// Для 429 портал может прислать Retry-After — его забирает экстрактор.
type StatusError struct {
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zakupki: портал ответил %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// StopRetry сообщает троттлеру, что ошибка не лечится повторами.
func (e *StatusError) StopRetry() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// RetryAfterExtractor возвращает throttle.WaitExtractor, достающий серверную
// паузу из 429-ответов портала. Интервал соблюдается ровно, без джиттера.
func RetryAfterExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		if err == nil {
			return 0, false
		}
		var se *StatusError
		if !errors.As(err, &se) {
			return 0, false
		}
		if se.RetryAfter <= 0 {
			return 0, false
		}
		return se.RetryAfter, true
	}
}

// get выполняет троттлированный GET и возвращает тело ответа.
// Все запросы к порталу — и лента, и детальные страницы — идут здесь.
func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if _, err := url.Parse(rawURL); err != nil {
		return nil, errors.Wrap(err, "zakupki: bad request url")
	}

	var body []byte
	err := c.throttler.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{
				StatusCode: resp.StatusCode,
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		body = data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// parseRetryAfter разбирает заголовок Retry-After: секунды либо HTTP-дата.
// Отсутствие и мусор дают ноль — троттлер применит обычный backoff.
func parseRetryAfter(value string) time.Duration {
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
