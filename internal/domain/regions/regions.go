// Package regions — справочник субъектов Российской Федерации и нормализация
// произвольных региональных строк к каноническому написанию.
//
// Назначение:
//   - приводить регион из RSS-ленты, почтового адреса заказчика или
//     пользовательского ввода к одному из 85 канонических субъектов;
//   - восстанавливать субъект по ИНН заказчика, когда адрес ничего не дал;
//   - разворачивать федеральные округа в перечень субъектов при настройке
//     фильтров.
//
// Модель данных и инварианты:
//   - Canonical — единственный источник истины: всё, что сохраняется в
//     профилях, фильтрах и карточках тендеров, либо входит в этот список,
//     либо является пустой строкой ("регион неизвестен");
//   - Normalize никогда не "угадывает": не нашли уверенного соответствия —
//     вернули пустую строку, решение о судьбе тендера принимает вызывающий;
//   - совпадения ищутся только по целым словам, чтобы улица Московская или
//     Петербургская не превращалась в субъект федерации.
package regions

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// canonIndex — нормализованный ключ -> каноническое написание.
// sortedIndex — тот же индекс по отсортированным словам названия, ловит
// инвертированный порядок ("Бурятия Республика", "обл. Московская").
var (
	canonIndex  = make(map[string]string, len(Canonical))
	sortedIndex = make(map[string]string, len(Canonical))
)

// tokenEntry — последовательность слов названия либо псевдонима для поиска
// внутри длинных адресных строк. Более длинные последовательности проверяются
// первыми.
type tokenEntry struct {
	tokens    []string
	canonical string
}

var tokenEntries []tokenEntry

var (
	reDigits     = regexp.MustCompile(`\d+`)
	rePunct      = regexp.MustCompile(`[.,;:()"«»/\\]+`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reDistrictFO = regexp.MustCompile(`\s+федеральный\s+округ$`)
)

// noiseWords — адресный мусор, который выбрасывается перед поиском. Типы
// субъектов (область, край, республика, округ) мусором не считаются: они
// входят в канонические названия.
var noiseWords = map[string]bool{
	"ул": true, "улица": true, "пр-кт": true, "проспект": true, "пер": true,
	"переулок": true, "пл": true, "площадь": true, "б-р": true, "бульвар": true,
	"ш": true, "шоссе": true, "д": true, "дом": true, "стр": true, "строение": true,
	"корп": true, "корпус": true, "кв": true, "офис": true, "оф": true,
	"литера": true, "лит": true, "помещ": true, "помещение": true, "этаж": true,
	"россия": true, "рф": true, "российская": true, "федерация": true,
}

// expansions — сокращённые типы субъектов из адресов ФИАС.
var expansions = map[string]string{
	"респ":  "республика",
	"обл":   "область",
	"аобл":  "автономная область",
	"ао":    "автономный округ",
	"г":     "", // "г Москва" -> "Москва"
	"гор":   "",
	"город": "",
}

func init() {
	for _, name := range Canonical {
		key := foldKey(name)
		canonIndex[key] = name
		sortedIndex[sortedKey(key)] = name
		tokenEntries = append(tokenEntries, tokenEntry{
			tokens:    strings.Fields(key),
			canonical: name,
		})
	}
	for alias, name := range aliases {
		key := foldKey(alias)
		if _, busy := canonIndex[key]; !busy {
			canonIndex[key] = name
		}
		tokenEntries = append(tokenEntries, tokenEntry{
			tokens:    strings.Fields(key),
			canonical: name,
		})
	}
	// Длинные названия предпочитаем коротким: "московская область" должна
	// победить псевдоним "москва" в одной и той же строке.
	sort.SliceStable(tokenEntries, func(i, j int) bool {
		return len(tokenEntries[i].tokens) > len(tokenEntries[j].tokens)
	})
}

// foldKey приводит строку к виду ключа индекса: нижний регистр, "е" вместо
// "ё", дефисы внутри слов сохраняются, длинное тире выбрасывается.
func foldKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "ё", "е")
	s = strings.ReplaceAll(s, "—", " ")
	s = strings.ReplaceAll(s, "–", " ")
	s = rePunct.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func sortedKey(folded string) string {
	words := strings.Fields(folded)
	sort.Strings(words)
	return strings.Join(words, " ")
}

// Normalize приводит произвольную региональную строку к каноническому
// написанию субъекта. Пустая строка на выходе означает "не распознано".
//
// Принимает как чистые названия ("Свердловская область", "мск", "ХМАО"),
// так и адресные хвосты ("обл. Московская, г. Подольск, ул. Кирова, д. 5").
func Normalize(raw string) string {
	key := cleanAddress(raw)
	if key == "" {
		return ""
	}
	if name, ok := canonIndex[key]; ok {
		return name
	}
	if name, ok := sortedIndex[sortedKey(key)]; ok {
		return name
	}
	return scanTokens(strings.Fields(key))
}

// cleanAddress выбрасывает цифры, пунктуацию и адресный мусор, разворачивает
// сокращения типов субъектов.
func cleanAddress(raw string) string {
	s := foldKey(reDigits.ReplaceAllString(raw, " "))
	if s == "" {
		return ""
	}
	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if noiseWords[w] {
			continue
		}
		if exp, ok := expansions[w]; ok {
			if exp == "" {
				continue
			}
			kept = append(kept, strings.Fields(exp)...)
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// scanTokens ищет в последовательности слов самое длинное известное название
// или псевдоним. Сравнение пословное: подстроки внутри слова не совпадают,
// поэтому "петербургская" не превращается в Санкт-Петербург.
func scanTokens(words []string) string {
	for _, e := range tokenEntries {
		if containsSeq(words, e.tokens) {
			return e.canonical
		}
	}
	return ""
}

func containsSeq(words, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(words) {
		return false
	}
	for i := 0; i+len(seq) <= len(words); i++ {
		ok := true
		for j, t := range seq {
			if words[i+j] != t {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// FromINN восстанавливает субъект по коду региона в ИНН заказчика.
// Принимаются только строки из 10 (юрлицо) или 12 (ИП) цифр.
func FromINN(inn string) string {
	inn = strings.TrimSpace(inn)
	if len(inn) != 10 && len(inn) != 12 {
		return ""
	}
	for _, r := range inn {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return innPrefix[inn[:2]]
}

// IsCanonical сообщает, входит ли название в эталонный список как есть.
func IsCanonical(name string) bool {
	got, ok := canonIndex[foldKey(name)]
	return ok && got == name
}

// ExpandDistrict разворачивает федеральный округ в перечень субъектов.
// Принимает полное название ("Сибирский", "Сибирский федеральный округ")
// либо код ("СФО"). Возвращает копию списка; nil — округ не распознан.
func ExpandDistrict(name string) []string {
	key := foldKey(reDistrictFO.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), ""))
	for dn, d := range Districts {
		if foldKey(dn) == key || foldKey(d.Code) == key {
			out := make([]string, len(d.Regions))
			copy(out, d.Regions)
			return out
		}
	}
	return nil
}

// DistrictOf возвращает название федерального округа для канонического
// субъекта, пустую строку — если субъект не распознан.
func DistrictOf(region string) string {
	canon := Normalize(region)
	if canon == "" {
		return ""
	}
	for dn, d := range Districts {
		for _, r := range d.Regions {
			if r == canon {
				return dn
			}
		}
	}
	return ""
}

// ParseList разбирает список регионов, введённый через запятую. Каждый
// элемент нормализуется; коды округов разворачиваются в субъекты. Возвращает
// распознанные канонические названия без дубликатов и нераспознанные куски
// в исходном написании.
func ParseList(input string) (recognized, unrecognized []string) {
	seen := make(map[string]bool)
	for _, part := range strings.Split(input, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if expanded := ExpandDistrict(part); expanded != nil {
			for _, r := range expanded {
				if !seen[r] {
					seen[r] = true
					recognized = append(recognized, r)
				}
			}
			continue
		}
		canon := Normalize(part)
		if canon == "" {
			unrecognized = append(unrecognized, part)
			continue
		}
		if !seen[canon] {
			seen[canon] = true
			recognized = append(recognized, canon)
		}
	}
	return recognized, unrecognized
}

// FormatList готовит перечень регионов для вывода в консоли и уведомлениях.
// Пустой список — "Не указаны", длинный обрезается с хвостом "и еще N".
func FormatList(list []string, max int) string {
	if len(list) == 0 {
		return "Не указаны"
	}
	if max <= 0 || len(list) <= max {
		return strings.Join(list, ", ")
	}
	head := strings.Join(list[:max], ", ")
	return head + " и еще " + strconv.Itoa(len(list)-max)
}

// FeedCode возвращает идентификатор субъекта для серверного фильтра ленты
// zakupki.gov.ru. Название сначала нормализуется; для субъектов без кода
// возвращается пустая строка, и фильтрация остаётся на стороне клиента.
func FeedCode(region string) string {
	canon := Normalize(region)
	if canon == "" {
		return ""
	}
	return feedCode[canon]
}
