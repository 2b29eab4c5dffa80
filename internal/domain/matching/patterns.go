package matching

import "strings"

// Негативные паттерны: тематики, куда обычный поставщик не пойдёт без
// профильного фильтра. Сравнение по подстроке в нижнем регистре, поэтому
// в списке основы слов, а не словоформы. Каждое попадание штрафуется
// умеренно и с общим потолком, чтобы профильные фильтры не гасли.
var negativePatterns = []string{
	// Военка и спецзаказ.
	"военный",
	"военно-",
	"оборонн",
	"гособоронзаказ",
	"вооружени",
	"боеприпас",
	"взрывчат",
	"стрелков",
	"бронетехник",
	"военнослужащ",
	"минобороны",
	"росгвард",
	"фсин",
	"полигон",
	"армейск",
	"спецсредств",
	"шифровальн",
	"секретн",
	"мобилизацион",
	"караульн",
	"пиротехник",
	"камуфляж",

	// Медицина.
	"медицинск",
	"лекарственн",
	"фармацевт",
	"медикамент",
	"госпитал",
	"больниц",
	"поликлиник",
	"стоматологич",
	"хирургич",
	"рентген",
	"вакцин",
	"донорск",
	"психиатрич",
	"реабилитацион",
	"санаторн",
	"протезн",
	"шприц",
	"перевязочн",
	"врачебн",
	"лечебн",
	"диспансер",
	"фельдшерск",

	// Стройка и капремонт.
	"капитальный ремонт",
	"капитального ремонта",
	"строительств",
	"реконструкци",
	"снос",
	"демонтаж",
	"благоустройств",
	"асфальтирован",
	"дорожные работы",
	"дорожных работ",
	"кровельн",
	"фасадн",
	"отделочн",
	"строительно-монтажн",
	"проектно-изыскательск",
	"земляные работы",
	"фундамент",
	"теплотрасс",
	"канализаци",
	"газопровод",
	"электромонтажн",
	"пусконаладочн",
	"сантехническ",
	"штукатур",
}

// Стоп-слова: родовые закупочные существительные. Сами по себе очков не дают,
// встречаются в каждом втором извещении.
var stopWords = map[string]struct{}{
	"поставка":     {},
	"поставки":     {},
	"услуга":       {},
	"услуги":       {},
	"закупка":      {},
	"закупки":      {},
	"работа":       {},
	"работы":       {},
	"система":      {},
	"системы":      {},
	"товар":        {},
	"товары":       {},
	"оказание":     {},
	"выполнение":   {},
	"приобретение": {},
	"обеспечение":  {},
	"продукция":    {},
}

// Белый список коротких ключей: технические аббревиатуры, которым разрешено
// участвовать в матчинге. Матчатся только целым словом, по корню никогда.
var shortWhitelist = map[string]struct{}{
	"ПО":  {},
	"IT":  {},
	"ИТ":  {},
	"ИБП": {},
	"АС":  {},
	"БД":  {},
	"ОС":  {},
	"ПК":  {},
	"СХД": {},
	"МФУ": {},
	"ЭВМ": {},
	"СИ":  {},
}

func isStopWord(kw string) bool {
	_, ok := stopWords[strings.ToLower(kw)]
	return ok
}

func isWhitelisted(kw string) bool {
	_, ok := shortWhitelist[strings.ToUpper(kw)]
	return ok
}
