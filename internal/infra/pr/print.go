// Package pr — тонкая обёртка над readline для интерактивной консоли оператора.
// Инициализирует readline с отменяемым stdin, переводит stdout/stderr на его
// буферы и даёт функции печати, которые не ломают строку ввода.
// Конкурентность: мьютекс защищает только смену целевых writer'ов; сами записи
// сериализует реализация writer'а (rl.Stdout потокобезопасен).

package pr

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/chzyer/readline"
	"github.com/kr/pretty"
)

var (
	// rl — активный инстанс readline; nil до Init().
	rl *readline.Instance
	// out и errOut до Init() указывают на os.Stdout/os.Stderr,
	// после — на буферы readline.
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr
	// mu защищает замену ссылок на writer'ы и cancelableIn.
	mu sync.Mutex

	// cancelableIn — stdin, который можно закрыть, чтобы Readline() получил io.EOF.
	cancelableIn interface{ Close() error }
)

// Init настраивает readline и перенаправляет потоки вывода на его stdout/stderr.
// Отменяемый stdin позволяет прервать ожидание ввода при shutdown.
// Повторный вызов не предусмотрен.
func Init() error {
	cs := readline.NewCancelableStdin(os.Stdin)
	newRl, err := readline.NewEx(&readline.Config{Stdin: cs})
	if err != nil {
		_ = cs.Close()
		return err
	}
	rl = newRl

	mu.Lock()
	cancelableIn = cs
	out = rl.Stdout()
	errOut = rl.Stderr()
	mu.Unlock()

	return nil
}

// InterruptReadline закрывает cancelable stdin: Readline() получает io.EOF и
// возвращается. Повторное закрытие безопасно игнорируется реализацией.
func InterruptReadline() {
	if cancelableIn != nil {
		_ = cancelableIn.Close()
	}
}

// SetPrompt задаёт строку приглашения. До Init() — no-op.
func SetPrompt(prompt string) {
	if rl == nil {
		return
	}
	rl.SetPrompt(prompt)
}

// Rl возвращает текущий инстанс readline (nil, если Init() не вызывался).
func Rl() *readline.Instance {
	return rl
}

// Stdout возвращает текущий writer стандартного вывода.
func Stdout() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return out
}

// Stderr возвращает текущий writer ошибок.
func Stderr() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return errOut
}

// Print печатает значения в Stdout без перевода строки.
func Print(a ...any) {
	fmt.Fprint(Stdout(), a...)
}

// Println печатает значения в Stdout с переводом строки. Работает и до Init().
func Println(a ...any) {
	fmt.Fprintln(Stdout(), a...)
}

// Printf форматирует строку и печатает её в Stdout.
func Printf(format string, a ...any) {
	fmt.Fprintf(Stdout(), format, a...)
}

// ErrPrint печатает значения в Stderr без перевода строки.
func ErrPrint(a ...any) {
	fmt.Fprint(Stderr(), a...)
}

// ErrPrintln печатает значения в Stderr с переводом строки.
func ErrPrintln(a ...any) {
	fmt.Fprintln(Stderr(), a...)
}

// ErrPrintf форматирует строку и печатает её в Stderr.
func ErrPrintf(format string, a ...any) {
	fmt.Fprintf(Stderr(), format, a...)
}

// PP pretty-печатает значение в Stdout. Для отладки; в горячих участках не использовать.
func PP(v any) {
	fmt.Fprintf(Stdout(), "%# v\n", pretty.Formatter(v))
}

// Pf возвращает pretty-строку значения.
func Pf(v any) string {
	return fmt.Sprintf("%# v\n", pretty.Formatter(v))
}
