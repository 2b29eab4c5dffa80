package telegram_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tender-radar/internal/adapters/telegram"
	"tender-radar/internal/domain/pipeline"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
)

// serveBotAPI поднимает фиктивный Bot API. Каждый запрос обрабатывается
// respond; snapshot возвращает форму последнего разобранного запроса.
func serveBotAPI(t *testing.T, respond http.HandlerFunc) (*httptest.Server, *atomic.Int32, func() url.Values) {
	t.Helper()

	var hits atomic.Int32
	var mu sync.Mutex
	var last url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		mu.Lock()
		last = r.Form
		mu.Unlock()
		respond(w, r)
	}))
	t.Cleanup(srv.Close)

	snapshot := func() url.Values {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
	return srv, &hits, snapshot
}

func respondOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42}}`))
}

func respondError(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newSender(t *testing.T, baseURL string) *telegram.Sender {
	t.Helper()
	s, err := telegram.New(telegram.Options{
		Token:   "123456:test-token",
		BaseURL: baseURL,
		RPS:     1000, // тесты не должны ждать токенов лимитера
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func laptopNotification() pipeline.Notification {
	return pipeline.Notification{
		ChatID:     777001,
		Subscriber: &subscribers.Subscriber{ID: 1, ChatID: 777001, Tier: subscribers.TierBasic},
		Filter:     &subscribers.Filter{ID: "f-laptops", SubscriberID: 1, Name: "Ноутбуки"},
		Tender: &tender.Enriched{
			Raw: tender.Raw{
				Number:   "0173200001426000777",
				Title:    "Поставка ноутбуков для инженерного центра",
				URL:      "https://zakupki.gov.ru/epz/order/notice/ea44/view/common-info.html?regNumber=0173200001426000777",
				Customer: "ГБУ Инженерный центр",
				Price:    2446980.70,
				Deadline: time.Date(2026, 3, 20, 10, 0, 0, 0, time.UTC),
			},
			CanonicalRegion: "Москва",
		},
		Composite:  85,
		Confidence: 85,
	}
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := telegram.New(telegram.Options{Token: "  "}); err == nil {
		t.Fatal("New: ожидалась ошибка для пустого токена")
	}
}

func TestSendDeliversCard(t *testing.T) {
	t.Parallel()

	srv, hits, snapshot := serveBotAPI(t, respondOK)
	s := newSender(t, srv.URL)

	outcome, err := s.Send(context.Background(), laptopNotification())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if outcome != pipeline.OutcomeSent {
		t.Fatalf("outcome = %q, want %q", outcome, pipeline.OutcomeSent)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("запросов к Bot API = %d, want 1", got)
	}

	form := snapshot()
	if got := form.Get("chat_id"); got != "777001" {
		t.Errorf("chat_id = %q, want %q", got, "777001")
	}
	if got := form.Get("parse_mode"); got != "HTML" {
		t.Errorf("parse_mode = %q, want %q", got, "HTML")
	}
	if got := form.Get("disable_web_page_preview"); got != "true" {
		t.Errorf("disable_web_page_preview = %q, want %q", got, "true")
	}

	text := form.Get("text")
	for _, want := range []string{
		"🔥",
		"85/100",
		"Поставка ноутбуков для инженерного центра",
		"2 446 981 ₽",
		"⏰ Подача до: 20.03.2026",
		"📍 Москва",
		"🏢 ГБУ Инженерный центр",
		"🎯 Фильтр: Ноутбуки",
		"🤖 AI: 85%",
		"№ 0173200001426000777",
		"regNumber=0173200001426000777",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("в карточке нет %q:\n%s", want, text)
		}
	}
}

func TestSendOutcomeClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		body   string
		want   pipeline.SendOutcome
	}{
		{
			name:   "бот заблокирован",
			status: http.StatusForbidden,
			body:   `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`,
			want:   pipeline.OutcomePermanent,
		},
		{
			name:   "чат не найден",
			status: http.StatusBadRequest,
			body:   `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`,
			want:   pipeline.OutcomePermanent,
		},
		{
			name:   "перегрузка Bot API",
			status: http.StatusBadGateway,
			body:   "Bad Gateway",
			want:   pipeline.OutcomeTransient,
		},
		{
			name:   "rate limit c retry_after",
			status: http.StatusTooManyRequests,
			body:   `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`,
			want:   pipeline.OutcomeTransient,
		},
		{
			name:   "ok=false без кода",
			status: http.StatusOK,
			body:   `{"ok":false,"description":"gateway hiccup"}`,
			want:   pipeline.OutcomeTransient,
		},
		{
			name:   "4xx с retry_after в описании",
			status: http.StatusOK,
			body:   `{"ok":false,"error_code":420,"description":"FLOOD_WAIT: retry_after 3"}`,
			want:   pipeline.OutcomeTransient,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv, _, _ := serveBotAPI(t, respondError(tc.status, tc.body))
			s := newSender(t, srv.URL)

			outcome, err := s.Send(context.Background(), laptopNotification())
			if outcome != tc.want {
				t.Errorf("outcome = %q, want %q", outcome, tc.want)
			}
			if err == nil {
				t.Error("Send: ожидалась ошибка с причиной отказа")
			}
		})
	}
}

func TestSendTransientOnNetworkError(t *testing.T) {
	t.Parallel()

	srv, _, _ := serveBotAPI(t, respondOK)
	s := newSender(t, srv.URL)
	srv.Close()

	outcome, err := s.Send(context.Background(), laptopNotification())
	if outcome != pipeline.OutcomeTransient {
		t.Errorf("outcome = %q, want %q", outcome, pipeline.OutcomeTransient)
	}
	if err == nil {
		t.Error("Send: ожидалась сетевая ошибка")
	}
}

func TestSendHonoursRetryAfterPause(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv, _, _ := serveBotAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			respondError(http.StatusTooManyRequests,
				`{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 1","parameters":{"retry_after":1}}`)(w, r)
			return
		}
		respondOK(w, r)
	})
	s := newSender(t, srv.URL)

	outcome, _ := s.Send(context.Background(), laptopNotification())
	if outcome != pipeline.OutcomeTransient {
		t.Fatalf("первый outcome = %q, want %q", outcome, pipeline.OutcomeTransient)
	}

	// Объявленная пауза должна задержать следующую отправку.
	start := time.Now()
	outcome, err := s.Send(context.Background(), laptopNotification())
	if err != nil {
		t.Fatalf("Send после паузы: %v", err)
	}
	if outcome != pipeline.OutcomeSent {
		t.Fatalf("второй outcome = %q, want %q", outcome, pipeline.OutcomeSent)
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("отправка после retry_after=1 заняла %s, want ≥ 900ms", elapsed)
	}
}

func TestSendPauseRespectsContext(t *testing.T) {
	t.Parallel()

	srv, hits, _ := serveBotAPI(t, respondError(http.StatusTooManyRequests,
		`{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":30}}`))
	s := newSender(t, srv.URL)

	if outcome, _ := s.Send(context.Background(), laptopNotification()); outcome != pipeline.OutcomeTransient {
		t.Fatalf("первый outcome = %q, want %q", outcome, pipeline.OutcomeTransient)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	outcome, err := s.Send(ctx, laptopNotification())
	if outcome != pipeline.OutcomeTransient {
		t.Errorf("outcome = %q, want %q", outcome, pipeline.OutcomeTransient)
	}
	if err == nil {
		t.Error("Send: ожидалась ошибка отменённого контекста")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("запросов к Bot API = %d, want 1: пауза не должна пропускать отправки", got)
	}
}

func TestSendQuotaNotice(t *testing.T) {
	t.Parallel()

	srv, _, snapshot := serveBotAPI(t, respondOK)
	s := newSender(t, srv.URL)

	sub := &subscribers.Subscriber{ID: 7, ChatID: 424242, Tier: subscribers.TierBasic}
	if err := s.SendQuotaNotice(context.Background(), sub); err != nil {
		t.Fatalf("SendQuotaNotice: %v", err)
	}

	form := snapshot()
	if got := form.Get("chat_id"); got != "424242" {
		t.Errorf("chat_id = %q, want %q", got, "424242")
	}
	text := form.Get("text")
	if !strings.Contains(text, "Достигнут лимит уведомлений") {
		t.Errorf("в сообщении нет заголовка о лимите:\n%s", text)
	}
	if !strings.Contains(text, "<b>50</b>") {
		t.Errorf("в сообщении нет лимита тарифа basic:\n%s", text)
	}
}

func TestSendQuotaNoticeReturnsTransportError(t *testing.T) {
	t.Parallel()

	srv, _, _ := serveBotAPI(t, respondError(http.StatusForbidden,
		`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	s := newSender(t, srv.URL)

	sub := &subscribers.Subscriber{ID: 7, ChatID: 424242, Tier: subscribers.TierTrial}
	if err := s.SendQuotaNotice(context.Background(), sub); err == nil {
		t.Fatal("SendQuotaNotice: ожидалась ошибка транспорта")
	}
}
