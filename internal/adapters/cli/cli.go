// Package cli — интерактивная консоль оператора радара. Сервис стартует
// фоном, читает команды из readline и транслирует их в commands.Executor:
// состояние конвейера, сводка по хранилищам, внеплановый цикл, разблокировка
// подписчика, журнал отказов и уборка устаревших записей. Поддерживается
// корректная интеграция в lifecycle: Start/Stop идемпотентны.
package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tender-radar/internal/domain/commands"
	"tender-radar/internal/infra/logger"
	"tender-radar/internal/infra/pr"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var (
	commandDescriptors = []commandDescriptor{
		{name: "help", description: "Show available commands with short descriptions"},
		{name: "status", description: "Show pipeline state: cycles, timings, last cycle counters"},
		{name: "stats", description: "Show store totals: subscribers, filters, ledger, caches"},
		{name: "cycle", description: "Force an out-of-schedule polling cycle"},
		{name: "unblock", description: "Clear the delivery block: unblock <subscriber-id>"},
		{name: "failed", description: "Print the journal of permanent delivery failures"},
		{name: "sweep", description: "Drop stale reservations and expired cache entries"},
		{name: "version", description: "Print radar version"},
		{name: "exit", description: "Stop CLI and terminate the service"},
	}
)

// commandTimeout ограничивает выполнение одной консольной команды: все операции
// локальные (bbolt и файлы), дольше работать им незачем.
const commandTimeout = 10 * time.Second

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop(). Потокобезопасность обеспечивается
// дисциплиной запуска/остановки и отсутствием внешних мутаций.
type Service struct {
	exec      commands.Executor  // фасад управляющих команд радара
	stopApp   context.CancelFunc // внешняя отмена приложения (команда exit, Ctrl-C на пустой строке)
	cancel    context.CancelFunc // локальная отмена run-цикла CLI
	wg        sync.WaitGroup     // ожидание завершения фоновой горутины run
	onceStart sync.Once          // идемпотентный запуск
	onceStop  sync.Once          // идемпотентная остановка
}

// NewService создаёт CLI-сервис. Параметр stopApp используется как «глобальная»
// остановка приложения (команда exit, Ctrl-C на пустой строке).
func NewService(exec commands.Executor, stopApp context.CancelFunc) *Service {
	return &Service{exec: exec, stopApp: stopApp}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются. Контекст используется как родительский для run-цикла.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: посылает внешнюю остановку приложения (если предусмотрено),
// прерывает readline, отменяет локальный контекст и дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if s.stopApp != nil {
			s.stopApp()
		}
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI. Печатает подсказки, устанавливает обработчики
// клавиш и в цикле читает команды построчно, передавая их в handleCommand().
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	// Устанавливаем промпт и выводим краткую справку, чтобы оператор не блуждал в темноте.
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.stopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	// Главный цикл чтения команд. Выход — по отмене контекста или по EOF от readline.
	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		// Блокирующее чтение одной строки с учётом интерактивных обработчиков клавиш.
		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения (stopApp) и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки (как в типичных CLI).
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	// Сохраняем предыдущий listener, чтобы не ломать поведение по умолчанию.
	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		// Быстрая справка по командам по нажатию '?'.
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		// Ctrl-C (ETX): особое поведение — либо остановка приложения, либо очистка строки.
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			// Непустую строку Ctrl-C просто очищает.
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую команду и выполняет соответствующее действие.
// Первый токен — имя команды, остальные — аргументы (сейчас они есть только у
// unblock). Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(cmd string) bool {
	fields := strings.Fields(cmd)
	verb := ""
	if len(fields) > 0 {
		verb = fields[0]
	}

	switch verb {
	case "help":
		printCommandHelp()
	case "status":
		s.handleStatus()
	case "stats":
		s.handleStats()
	case "cycle":
		s.handleCycle()
	case "unblock":
		s.handleUnblock(fields[1:])
	case "failed":
		s.handleFailed()
	case "sweep":
		s.handleSweep()
	case "version":
		s.handleVersion()
	case "exit":
		if s.stopApp != nil {
			s.stopApp()
		}
		return true
	case "":
		// ignore
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

// commandContext возвращает контекст с таймаутом для одной консольной команды.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

// handleStatus печатает агрегированное состояние конвейера: фазу, счётчики
// последнего цикла и накопленные итоги. Временные метки приводятся к таймзоне
// радара, чтобы оператор видел то же «локальное время», что и тихие часы.
func (s *Service) handleStatus() {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := s.exec.Status(ctx)
	if err != nil {
		pr.ErrPrintln("status error:", err)
		return
	}

	pr.Printf("Pipeline: %s, cycles=%d\n", st.State, st.Cycles)
	if !st.LastCycleAt.IsZero() {
		pr.Printf("Last cycle: %s (took %s)\n",
			st.LastCycleAt.In(st.Location).Format(time.RFC3339), st.LastDuration.Round(time.Millisecond))
	} else {
		pr.Println("Last cycle: <never>")
	}
	if !st.NextCycleAt.IsZero() {
		pr.Printf("Next cycle: %s\n", st.NextCycleAt.In(st.Location).Format(time.RFC3339))
	} else {
		pr.Println("Next cycle: <not scheduled>")
	}

	lc := st.LastCycle
	pr.Printf("Last cycle counters: filters=%d candidates=%d suppressed=%d enriched=%d matched=%d oracle=%d sent=%d\n",
		lc.Filters, lc.Candidates, lc.Suppressed, lc.Enriched, lc.Matched, lc.OracleCalls, lc.Sent)
	pr.Printf("Holds: quiet=%d quota=%d duplicates=%d send-failures=%d errors=%d\n",
		lc.QuietHolds, lc.QuotaHolds, lc.Duplicates, lc.SendFailures, lc.Errors)
	pr.Printf("Totals: sent=%d errors=%d\n", st.TotalSent, st.TotalErrors)
	if st.LastError != "" {
		pr.Printf("Last error: %s\n", st.LastError)
	}
}

// handleStats печатает сводку по хранилищам: подписчики и блокировки доставки,
// фильтры, записи леджера и наполнение кэшей.
func (s *Service) handleStats() {
	ctx, cancel := commandContext()
	defer cancel()

	st, err := s.exec.Stats(ctx)
	if err != nil {
		pr.ErrPrintln("stats error:", err)
		return
	}

	pr.Printf("Subscribers: %d (delivery blocked: %d)\n", st.Subscribers, st.Blocked)
	pr.Printf("Filters: %d (active: %d)\n", st.Filters, st.ActiveFilters)
	pr.Printf("Ledger: tentative=%d confirmed=%d\n", st.Tentative, st.Confirmed)
	for _, c := range st.Caches {
		pr.Printf("Cache %q: %d entries\n", c.Kind, c.Entries)
	}
}

// handleCycle просит конвейер выполнить внеплановый цикл опроса ленты.
func (s *Service) handleCycle() {
	ctx, cancel := commandContext()
	defer cancel()

	if err := s.exec.ForceCycle(ctx); err != nil {
		pr.ErrPrintln("cycle error:", err)
		return
	}
	pr.Println("Polling cycle requested.")
}

// handleUnblock снимает блокировку доставки с подписчика по его ID.
func (s *Service) handleUnblock(args []string) {
	if len(args) != 1 {
		pr.ErrPrintln("usage: unblock <subscriber-id>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		pr.ErrPrintln("unblock: invalid subscriber id:", args[0])
		return
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := s.exec.Unblock(ctx, id); err != nil {
		pr.ErrPrintln("unblock error:", err)
		return
	}
	pr.Printf("Delivery unblocked for subscriber %d.\n", id)
}

// handleFailed печатает журнал постоянных отказов доставки в порядке записи.
func (s *Service) handleFailed() {
	ctx, cancel := commandContext()
	defer cancel()

	res, err := s.exec.Failed(ctx)
	if err != nil {
		pr.ErrPrintln("failed error:", err)
		return
	}
	if len(res.Records) == 0 {
		pr.Println("Failure journal is empty.")
		return
	}
	for _, rec := range res.Records {
		pr.Printf("  %s  subscriber=%d  tender=%s  cause=%s\n",
			rec.At.Format(time.RFC3339), rec.SubscriberID, rec.TenderID, rec.Cause)
	}
	pr.Printf("Total failures: %d\n", len(res.Records))
}

// handleSweep запускает уборку: снимает зависшие резервирования леджера и
// удаляет истёкшие записи кэшей.
func (s *Service) handleSweep() {
	ctx, cancel := commandContext()
	defer cancel()

	res, err := s.exec.Sweep(ctx)
	if err != nil {
		pr.ErrPrintln("sweep error:", err)
		return
	}

	pr.Printf("Swept %d stale reservation(s).\n", res.Tentative)
	kinds := make([]string, 0, len(res.Caches))
	for kind := range res.Caches {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		pr.Printf("Cache %q: %d expired entries removed\n", kind, res.Caches[kind])
	}
}

// handleVersion печатает имя и версию сборки радара.
func (s *Service) handleVersion() {
	ctx, cancel := commandContext()
	defer cancel()

	v, err := s.exec.Version(ctx)
	if err != nil {
		pr.ErrPrintln("version error:", err)
		return
	}
	pr.Println(fmt.Sprintf("%s v%s", v.Name, v.Version))
}

// joinCommandNames собирает строку имён команд, разделённых запятыми, для короткой подсказки.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
