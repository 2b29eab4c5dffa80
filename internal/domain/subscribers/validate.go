// Валидация моделей перед персистом. Структурные ограничения навешаны тегами
// validator/v10, межполевые проверки (диапазон цен, тихое окно, канон регионов)
// выполняются вручную. Нарушение возвращается как *InputError: фронтенд
// показывает причину пользователю, в конвейер такие данные не попадают.

package subscribers

import (
	"fmt"
	"strings"

	"tender-radar/internal/domain/regions"
	"tender-radar/internal/infra/timeutil"

	"github.com/go-playground/validator/v10"
)

// InputError — нарушение документированных ограничений входными данными.
type InputError struct {
	Reason string
}

func (e *InputError) Error() string {
	return "input rejected: " + e.Reason
}

// validate — общий инстанс; потокобезопасен после конфигурации.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate проверяет подписчика: тариф, таймзону и тихое окно.
func (s *Subscriber) Validate() error {
	if err := validate.Struct(s); err != nil {
		return &InputError{Reason: fmt.Sprintf("subscriber %d: %v", s.ID, err)}
	}
	if s.Timezone != "" {
		if _, err := timeutil.ParseLocation(s.Timezone); err != nil {
			return &InputError{Reason: fmt.Sprintf("subscriber %d: timezone %q: %v", s.ID, s.Timezone, err)}
		}
	}

	hasStart := strings.TrimSpace(s.QuietStart) != ""
	hasEnd := strings.TrimSpace(s.QuietEnd) != ""
	switch {
	case hasStart != hasEnd:
		return &InputError{Reason: fmt.Sprintf("subscriber %d: quiet window requires both bounds", s.ID)}
	case hasStart && !timeutil.IsValidScheduleEntry(s.QuietStart):
		return &InputError{Reason: fmt.Sprintf("subscriber %d: quiet_start %q is not HH:MM", s.ID, s.QuietStart)}
	case hasEnd && !timeutil.IsValidScheduleEntry(s.QuietEnd):
		return &InputError{Reason: fmt.Sprintf("subscriber %d: quiet_end %q is not HH:MM", s.ID, s.QuietEnd)}
	}
	return nil
}

// Normalize приводит фильтр к хранимой форме: обрезает пробелы в ключевых
// словах, выбрасывает пустые, канонизирует регионы (с разворачиванием
// федеральных округов). Нераспознанный регион — ошибка, а не тихий пропуск.
func (f *Filter) Normalize() error {
	f.Name = strings.TrimSpace(f.Name)
	f.Keywords = trimAll(f.Keywords)
	f.ExcludeKeywords = trimAll(f.ExcludeKeywords)
	f.PrimaryKeywords = trimAll(f.PrimaryKeywords)
	f.SecondaryKeywords = trimAll(f.SecondaryKeywords)
	f.ExpandedKeywords = trimAll(f.ExpandedKeywords)

	var err error
	if f.Regions, err = canonicalRegions(f.Regions); err != nil {
		return err
	}
	if f.ExecutionRegions, err = canonicalRegions(f.ExecutionRegions); err != nil {
		return err
	}

	if f.LawType == "" {
		f.LawType = "any"
	}
	return nil
}

// Validate проверяет фильтр после Normalize.
func (f *Filter) Validate() error {
	if err := validate.Struct(f); err != nil {
		return &InputError{Reason: fmt.Sprintf("filter %q: %v", f.Name, err)}
	}
	if len(f.Keywords) == 0 {
		return &InputError{Reason: fmt.Sprintf("filter %q: keywords are empty after normalisation", f.Name)}
	}
	if f.PriceMin != nil && *f.PriceMin < 0 {
		return &InputError{Reason: fmt.Sprintf("filter %q: price_min is negative", f.Name)}
	}
	if f.PriceMax != nil && *f.PriceMax < 0 {
		return &InputError{Reason: fmt.Sprintf("filter %q: price_max is negative", f.Name)}
	}
	if f.PriceMin != nil && f.PriceMax != nil && *f.PriceMin > *f.PriceMax {
		return &InputError{Reason: fmt.Sprintf("filter %q: price_min exceeds price_max", f.Name)}
	}
	for _, region := range f.Regions {
		if !regions.IsCanonical(region) {
			return &InputError{Reason: fmt.Sprintf("filter %q: region %q is not canonical", f.Name, region)}
		}
	}
	return nil
}

// trimAll обрезает пробелы и выбрасывает пустые элементы, сохраняя порядок.
func trimAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// canonicalRegions переводит произвольные написания в канонические названия
// субъектов; федеральные округа разворачиваются в перечень.
func canonicalRegions(in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	recognized, unrecognized := regions.ParseList(strings.Join(in, ","))
	if len(unrecognized) > 0 {
		return nil, &InputError{
			Reason: fmt.Sprintf("unknown regions: %s", strings.Join(unrecognized, ", ")),
		}
	}
	return recognized, nil
}
