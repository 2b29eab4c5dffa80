package subscribers_test

import (
	"testing"

	"github.com/go-faster/errors"

	"tender-radar/internal/domain/subscribers"
)

func validSubscriber() *subscribers.Subscriber {
	return &subscribers.Subscriber{
		ID:     100500,
		ChatID: 100500,
		Tier:   subscribers.TierBasic,
	}
}

func TestSubscriberValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		mutate  func(*subscribers.Subscriber)
		wantErr bool
	}{
		{
			name:   "valid minimal",
			mutate: func(s *subscribers.Subscriber) {},
		},
		{
			name:    "missing id",
			mutate:  func(s *subscribers.Subscriber) { s.ID = 0 },
			wantErr: true,
		},
		{
			name:    "unknown tier",
			mutate:  func(s *subscribers.Subscriber) { s.Tier = "platinum" },
			wantErr: true,
		},
		{
			name:   "iana timezone",
			mutate: func(s *subscribers.Subscriber) { s.Timezone = "Asia/Yekaterinburg" },
		},
		{
			name:    "garbage timezone",
			mutate:  func(s *subscribers.Subscriber) { s.Timezone = "Mars/Olympus" },
			wantErr: true,
		},
		{
			name: "quiet window",
			mutate: func(s *subscribers.Subscriber) {
				s.QuietStart = "23:00"
				s.QuietEnd = "08:00"
			},
		},
		{
			name:    "one sided quiet window",
			mutate:  func(s *subscribers.Subscriber) { s.QuietStart = "23:00" },
			wantErr: true,
		},
		{
			name: "malformed quiet time",
			mutate: func(s *subscribers.Subscriber) {
				s.QuietStart = "25:99"
				s.QuietEnd = "08:00"
			},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			sub := validSubscriber()
			tc.mutate(sub)
			err := sub.Validate()
			if tc.wantErr {
				var inputErr *subscribers.InputError
				if !errors.As(err, &inputErr) {
					t.Fatalf("Validate() error = %v, want *InputError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v, want nil", err)
			}
		})
	}
}

func TestFilterValidate(t *testing.T) {
	t.Parallel()

	float := func(v float64) *float64 { return &v }

	cases := []struct {
		name    string
		mutate  func(*subscribers.Filter)
		wantErr bool
	}{
		{
			name:   "valid minimal",
			mutate: func(f *subscribers.Filter) {},
		},
		{
			name:    "missing subscriber",
			mutate:  func(f *subscribers.Filter) { f.SubscriberID = 0 },
			wantErr: true,
		},
		{
			name:    "empty keywords",
			mutate:  func(f *subscribers.Filter) { f.Keywords = nil },
			wantErr: true,
		},
		{
			name:    "blank keywords only",
			mutate:  func(f *subscribers.Filter) { f.Keywords = []string{"  ", ""} },
			wantErr: true,
		},
		{
			name: "price window",
			mutate: func(f *subscribers.Filter) {
				f.PriceMin = float(100000)
				f.PriceMax = float(5000000)
			},
		},
		{
			name: "inverted price window",
			mutate: func(f *subscribers.Filter) {
				f.PriceMin = float(5000000)
				f.PriceMax = float(100000)
			},
			wantErr: true,
		},
		{
			name:    "negative price",
			mutate:  func(f *subscribers.Filter) { f.PriceMin = float(-1) },
			wantErr: true,
		},
		{
			name:    "unknown law",
			mutate:  func(f *subscribers.Filter) { f.LawType = "94-FZ" },
			wantErr: true,
		},
		{
			name:    "unknown region",
			mutate:  func(f *subscribers.Filter) { f.Regions = []string{"Гондор"} },
			wantErr: true,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := testFilter(1)
			tc.mutate(f)
			err := f.Normalize()
			if err == nil {
				err = f.Validate()
			}
			if tc.wantErr {
				var inputErr *subscribers.InputError
				if !errors.As(err, &inputErr) {
					t.Fatalf("validate error = %v, want *InputError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("validate error = %v, want nil", err)
			}
		})
	}
}

func TestFilterNormalizeCanonicalisesRegions(t *testing.T) {
	t.Parallel()

	f := testFilter(1)
	f.Regions = []string{"мск", "Питер"}
	f.ExecutionRegions = []string{"свердловская область"}
	if err := f.Normalize(); err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}

	wantRegions := []string{"Москва", "Санкт-Петербург"}
	if len(f.Regions) != 2 || f.Regions[0] != wantRegions[0] || f.Regions[1] != wantRegions[1] {
		t.Errorf("Regions = %#v, want %#v", f.Regions, wantRegions)
	}
	if len(f.ExecutionRegions) != 1 || f.ExecutionRegions[0] != "Свердловская область" {
		t.Errorf("ExecutionRegions = %#v, want [Свердловская область]", f.ExecutionRegions)
	}
	if f.LawType != "any" {
		t.Errorf("LawType = %q, want %q", f.LawType, "any")
	}
}

func TestFilterAllKeywords(t *testing.T) {
	t.Parallel()

	f := testFilter(1)
	f.Keywords = []string{"сервер", "схд"}
	f.ExpandedKeywords = []string{"схд", "система хранения данных"}

	got := f.AllKeywords()
	want := []string{"сервер", "схд", "система хранения данных"}
	if len(got) != len(want) {
		t.Fatalf("AllKeywords() = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("AllKeywords() = %#v, want %#v", got, want)
		}
	}
}

func TestFilterCloneIsDeep(t *testing.T) {
	t.Parallel()

	f := testFilter(1)
	f.Regions = []string{"Москва"}
	clone := f.Clone()
	clone.Keywords[0] = "мутация"
	clone.Regions[0] = "Севастополь"

	if f.Keywords[0] != "сервер" {
		t.Errorf("Keywords[0] = %q after clone mutation, want %q", f.Keywords[0], "сервер")
	}
	if f.Regions[0] != "Москва" {
		t.Errorf("Regions[0] = %q after clone mutation, want %q", f.Regions[0], "Москва")
	}
}
