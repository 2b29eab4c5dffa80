// Package version — имя и версия приложения для консоли и логов.
package version

const (
	Name    = "tender-radar"
	Version = "0.4.1"
)
