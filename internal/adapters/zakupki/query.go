package zakupki

import (
	"net/url"
	"strconv"
	"strings"

	"tender-radar/internal/domain/regions"
	"tender-radar/internal/domain/subscribers"
	"tender-radar/internal/domain/tender"
)

// feedURL собирает адрес RSS-ленты расширенного поиска под фильтр подписчика.
//
// Набор параметров повторяет форму портала:
//   - morphology=on — поиск по словоформам;
//   - sortBy=UPDATE_DATE, sortDirection=false — свежие извещения первыми;
//   - af=on, ca=on — только этап подачи заявок, завершённые закупки
//     конвейеру не нужны;
//   - fz44/fz223 — правовой режим; без явного выбора включаются оба;
//   - selectedSubjectsIdNameHidden — коды субъектов через запятую; регионы
//     без кода остаются на клиентской фильтрации;
//   - purchaseObjectTypeCode — только для работ (2) и услуг (3). Для товаров
//     серверный фильтр не включается: портал массово помечает товары как
//     услуги, отсев делается на клиенте по названию.
func (c *Client) feedURL(f *subscribers.Filter) string {
	params := url.Values{}
	params.Set("morphology", "on")
	params.Set("search-filter", "Дате размещения")
	params.Set("sortDirection", "false")
	params.Set("sortBy", "UPDATE_DATE")
	params.Set("currencyIdGeneral", "-1")

	switch f.LawType {
	case tender.Law44:
		params.Set("fz44", "on")
	case tender.Law223:
		params.Set("fz223", "on")
	default:
		params.Set("fz44", "on")
		params.Set("fz223", "on")
	}

	params.Set("af", "on")
	params.Set("ca", "on")

	if len(f.Keywords) > 0 {
		params.Set("searchString", strings.Join(f.Keywords, " "))
	}

	if codes := feedRegionCodes(f.Regions); codes != "" {
		params.Set("selectedSubjectsIdNameHidden", codes)
	}

	if f.PriceMin != nil && *f.PriceMin > 0 {
		params.Set("priceFromGeneral", formatPrice(*f.PriceMin))
	}
	if f.PriceMax != nil && *f.PriceMax > 0 {
		params.Set("priceToGeneral", formatPrice(*f.PriceMax))
	}

	if code := serverKindCode(f.TenderTypes); code != "" {
		params.Set("purchaseObjectTypeCode", code)
	}

	return c.baseURL + "?" + params.Encode()
}

// feedRegionCodes переводит канонические субъекты в коды портала.
// Субъекты без кода пропускаются молча: их отфильтрует скоринг по
// каноническому региону карточки.
func feedRegionCodes(list []string) string {
	codes := make([]string, 0, len(list))
	for _, region := range list {
		if code := regions.FeedCode(region); code != "" {
			codes = append(codes, code)
		}
	}
	return strings.Join(codes, ",")
}

// serverKindCode возвращает код purchaseObjectTypeCode, когда фильтр просит
// ровно один тип и портал умеет его фильтровать. Товары и смешанные наборы
// дают пустую строку.
func serverKindCode(kinds []tender.Kind) string {
	if len(kinds) != 1 {
		return ""
	}
	switch kinds[0] {
	case tender.Works:
		return "2"
	case tender.Services:
		return "3"
	}
	return ""
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// soleKind возвращает единственный тип фильтра или пустую строку, когда
// типов нет либо их несколько. Управляет клиентской фильтрацией и запасом
// записей при опросе ленты.
func soleKind(kinds []tender.Kind) tender.Kind {
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}
