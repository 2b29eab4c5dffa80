package timeutil_test

import (
	"testing"
	"time"

	"tender-radar/internal/infra/timeutil"
)

func TestParseLocation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		value   string
		wantErr bool
		// wantOffset проверяется только для фиксированных зон.
		wantOffset int
		fixed      bool
	}{
		{name: "iana", value: "Europe/Moscow"},
		{name: "iana Asia", value: "Asia/Yekaterinburg"},
		{name: "offset colon", value: "+03:00", fixed: true, wantOffset: 3 * 3600},
		{name: "offset compact", value: "-0700", fixed: true, wantOffset: -7 * 3600},
		{name: "utc prefix", value: "UTC+3", fixed: true, wantOffset: 3 * 3600},
		{name: "gmt prefix with minutes", value: "GMT-04:30", fixed: true, wantOffset: -(4*3600 + 30*60)},
		{name: "zulu", value: "Z", fixed: true, wantOffset: 0},
		{name: "empty", value: "", wantErr: true},
		{name: "garbage", value: "Московское время", wantErr: true},
		{name: "out of range", value: "+15:00", wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			loc, err := timeutil.ParseLocation(tc.value)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseLocation(%q) = %v, want error", tc.value, loc)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLocation(%q) error: %v", tc.value, err)
			}
			if tc.fixed {
				_, offset := time.Date(2026, 6, 1, 12, 0, 0, 0, loc).Zone()
				if offset != tc.wantOffset {
					t.Fatalf("ParseLocation(%q) offset = %d, want %d", tc.value, offset, tc.wantOffset)
				}
			}
		})
	}
}

func TestLocalDate(t *testing.T) {
	t.Parallel()

	moscow, err := timeutil.ParseLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}

	// 23:30 UTC 1 июня — в Москве уже 2 июня.
	moment := time.Date(2026, 6, 1, 23, 30, 0, 0, time.UTC)
	if got := timeutil.LocalDate(moment, moscow); got != "2026-06-02" {
		t.Fatalf("LocalDate() = %q, want %q", got, "2026-06-02")
	}
	if got := timeutil.LocalDate(moment, time.UTC); got != "2026-06-01" {
		t.Fatalf("LocalDate() = %q, want %q", got, "2026-06-01")
	}
}

func TestInQuietWindow(t *testing.T) {
	t.Parallel()

	moscow, err := timeutil.ParseLocation("Europe/Moscow")
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 6, 1, hour, minute, 0, 0, moscow)
	}

	cases := []struct {
		name       string
		t          time.Time
		start, end string
		want       bool
	}{
		{name: "day window inside", t: at(13, 0), start: "12:00", end: "14:00", want: true},
		{name: "day window before", t: at(11, 59), start: "12:00", end: "14:00", want: false},
		{name: "day window at end", t: at(14, 0), start: "12:00", end: "14:00", want: false},
		{name: "night window late evening", t: at(23, 15), start: "22:00", end: "09:00", want: true},
		{name: "night window early morning", t: at(8, 59), start: "22:00", end: "09:00", want: true},
		{name: "night window midday", t: at(12, 0), start: "22:00", end: "09:00", want: false},
		{name: "night window at start", t: at(22, 0), start: "22:00", end: "09:00", want: true},
		{name: "night window at end", t: at(9, 0), start: "22:00", end: "09:00", want: false},
		{name: "empty window", t: at(12, 0), start: "10:00", end: "10:00", want: false},
		{name: "broken bounds", t: at(12, 0), start: "25:00", end: "09:00", want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := timeutil.InQuietWindow(tc.t, tc.start, tc.end, moscow); got != tc.want {
				t.Fatalf("InQuietWindow(%s, %q, %q) = %v, want %v",
					tc.t.Format("15:04"), tc.start, tc.end, got, tc.want)
			}
		})
	}
}

func TestInQuietWindowUsesSubscriberZone(t *testing.T) {
	t.Parallel()

	vladivostok, err := timeutil.ParseLocation("Asia/Vladivostok")
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}

	// 14:00 UTC = 00:00 следующего дня во Владивостоке (UTC+10): тихие часы.
	moment := time.Date(2026, 6, 1, 14, 0, 0, 0, time.UTC)
	if !timeutil.InQuietWindow(moment, "22:00", "09:00", vladivostok) {
		t.Fatalf("InQuietWindow() = false, want true for %s in Vladivostok", moment)
	}
	// Тот же момент в Калининграде (UTC+2) — 16:00, рабочее время.
	kaliningrad, err := timeutil.ParseLocation("Europe/Kaliningrad")
	if err != nil {
		t.Fatalf("ParseLocation: %v", err)
	}
	if timeutil.InQuietWindow(moment, "22:00", "09:00", kaliningrad) {
		t.Fatalf("InQuietWindow() = true, want false for %s in Kaliningrad", moment)
	}
}
