package regions

// Справочные таблицы субъектов РФ.
//
// Canonical — эталонный список из 85 субъектов федерации. Любое регионное поле,
// сохраняемое системой, обязано быть элементом этого списка либо пустой строкой.
// Порядок — по федеральным округам, внутри округа алфавитный.

// Canonical — 85 субъектов федерации в каноническом написании.
var Canonical = []string{
	// Центральный федеральный округ
	"Белгородская область",
	"Брянская область",
	"Владимирская область",
	"Воронежская область",
	"Ивановская область",
	"Калужская область",
	"Костромская область",
	"Курская область",
	"Липецкая область",
	"Москва",
	"Московская область",
	"Орловская область",
	"Рязанская область",
	"Смоленская область",
	"Тамбовская область",
	"Тверская область",
	"Тульская область",
	"Ярославская область",
	// Северо-Западный федеральный округ
	"Архангельская область",
	"Вологодская область",
	"Калининградская область",
	"Ленинградская область",
	"Мурманская область",
	"Ненецкий автономный округ",
	"Новгородская область",
	"Псковская область",
	"Республика Карелия",
	"Республика Коми",
	"Санкт-Петербург",
	// Южный федеральный округ
	"Астраханская область",
	"Волгоградская область",
	"Краснодарский край",
	"Республика Адыгея",
	"Республика Калмыкия",
	"Республика Крым",
	"Ростовская область",
	"Севастополь",
	// Северо-Кавказский федеральный округ
	"Кабардино-Балкарская Республика",
	"Карачаево-Черкесская Республика",
	"Республика Дагестан",
	"Республика Ингушетия",
	"Республика Северная Осетия — Алания",
	"Ставропольский край",
	"Чеченская Республика",
	// Приволжский федеральный округ
	"Кировская область",
	"Нижегородская область",
	"Оренбургская область",
	"Пензенская область",
	"Пермский край",
	"Республика Башкортостан",
	"Республика Марий Эл",
	"Республика Мордовия",
	"Республика Татарстан",
	"Самарская область",
	"Саратовская область",
	"Удмуртская Республика",
	"Ульяновская область",
	"Чувашская Республика",
	// Уральский федеральный округ
	"Курганская область",
	"Свердловская область",
	"Тюменская область",
	"Ханты-Мансийский автономный округ — Югра",
	"Челябинская область",
	"Ямало-Ненецкий автономный округ",
	// Сибирский федеральный округ
	"Алтайский край",
	"Иркутская область",
	"Кемеровская область",
	"Красноярский край",
	"Новосибирская область",
	"Омская область",
	"Республика Алтай",
	"Республика Тыва",
	"Республика Хакасия",
	"Томская область",
	// Дальневосточный федеральный округ
	"Амурская область",
	"Еврейская автономная область",
	"Забайкальский край",
	"Камчатский край",
	"Магаданская область",
	"Приморский край",
	"Республика Бурятия",
	"Республика Саха (Якутия)",
	"Сахалинская область",
	"Хабаровский край",
	"Чукотский автономный округ",
}

// District описывает федеральный округ: краткий код и перечень субъектов.
type District struct {
	Code    string
	Regions []string
}

// Districts — 8 федеральных округов. Ключ — название без слова "федеральный округ".
var Districts = map[string]District{
	"Центральный": {
		Code: "ЦФО",
		Regions: []string{
			"Белгородская область", "Брянская область", "Владимирская область",
			"Воронежская область", "Ивановская область", "Калужская область",
			"Костромская область", "Курская область", "Липецкая область",
			"Москва", "Московская область", "Орловская область",
			"Рязанская область", "Смоленская область", "Тамбовская область",
			"Тверская область", "Тульская область", "Ярославская область",
		},
	},
	"Северо-Западный": {
		Code: "СЗФО",
		Regions: []string{
			"Архангельская область", "Вологодская область", "Калининградская область",
			"Ленинградская область", "Мурманская область", "Ненецкий автономный округ",
			"Новгородская область", "Псковская область", "Республика Карелия",
			"Республика Коми", "Санкт-Петербург",
		},
	},
	"Южный": {
		Code: "ЮФО",
		Regions: []string{
			"Астраханская область", "Волгоградская область", "Краснодарский край",
			"Республика Адыгея", "Республика Калмыкия", "Республика Крым",
			"Ростовская область", "Севастополь",
		},
	},
	"Северо-Кавказский": {
		Code: "СКФО",
		Regions: []string{
			"Кабардино-Балкарская Республика", "Карачаево-Черкесская Республика",
			"Республика Дагестан", "Республика Ингушетия",
			"Республика Северная Осетия — Алания", "Ставропольский край",
			"Чеченская Республика",
		},
	},
	"Приволжский": {
		Code: "ПФО",
		Regions: []string{
			"Кировская область", "Нижегородская область", "Оренбургская область",
			"Пензенская область", "Пермский край", "Республика Башкортостан",
			"Республика Марий Эл", "Республика Мордовия", "Республика Татарстан",
			"Самарская область", "Саратовская область", "Удмуртская Республика",
			"Ульяновская область", "Чувашская Республика",
		},
	},
	"Уральский": {
		Code: "УФО",
		Regions: []string{
			"Курганская область", "Свердловская область", "Тюменская область",
			"Ханты-Мансийский автономный округ — Югра", "Челябинская область",
			"Ямало-Ненецкий автономный округ",
		},
	},
	"Сибирский": {
		Code: "СФО",
		Regions: []string{
			"Алтайский край", "Иркутская область", "Кемеровская область",
			"Красноярский край", "Новосибирская область", "Омская область",
			"Республика Алтай", "Республика Тыва", "Республика Хакасия",
			"Томская область",
		},
	},
	"Дальневосточный": {
		Code: "ДФО",
		Regions: []string{
			"Амурская область", "Еврейская автономная область", "Забайкальский край",
			"Камчатский край", "Магаданская область", "Приморский край",
			"Республика Бурятия", "Республика Саха (Якутия)", "Сахалинская область",
			"Хабаровский край", "Чукотский автономный округ",
		},
	},
}

// aliases — неформальные и сокращённые написания. Ключи в нижнем регистре,
// "ё" заменена на "е". Включают аббревиатуры, народные названия и крупные
// административные центры, по которым однозначно восстанавливается субъект.
var aliases = map[string]string{
	// города федерального значения
	"мск":             "Москва",
	"г москва":        "Москва",
	"спб":             "Санкт-Петербург",
	"питер":           "Санкт-Петербург",
	"петербург":       "Санкт-Петербург",
	"с-петербург":     "Санкт-Петербург",
	"ленинград":       "Санкт-Петербург",
	"г севастополь":   "Севастополь",
	// автономные округа
	"хмао":            "Ханты-Мансийский автономный округ — Югра",
	"хмао-югра":       "Ханты-Мансийский автономный округ — Югра",
	"югра":            "Ханты-Мансийский автономный округ — Югра",
	"ханты-мансийский ао": "Ханты-Мансийский автономный округ — Югра",
	"янао":            "Ямало-Ненецкий автономный округ",
	"ямал":            "Ямало-Ненецкий автономный округ",
	"нао":             "Ненецкий автономный округ",
	"чукотка":         "Чукотский автономный округ",
	"еао":             "Еврейская автономная область",
	// республики: народные формы
	"башкирия":        "Республика Башкортостан",
	"башкортостан":    "Республика Башкортостан",
	"татарстан":       "Республика Татарстан",
	"татария":         "Республика Татарстан",
	"якутия":          "Республика Саха (Якутия)",
	"саха":            "Республика Саха (Якутия)",
	"чечня":           "Чеченская Республика",
	"чувашия":         "Чувашская Республика",
	"удмуртия":        "Удмуртская Республика",
	"мордовия":        "Республика Мордовия",
	"дагестан":        "Республика Дагестан",
	"ингушетия":       "Республика Ингушетия",
	"калмыкия":        "Республика Калмыкия",
	"карелия":         "Республика Карелия",
	"коми":            "Республика Коми",
	"крым":            "Республика Крым",
	"адыгея":          "Республика Адыгея",
	"бурятия":         "Республика Бурятия",
	"хакасия":         "Республика Хакасия",
	"тыва":            "Республика Тыва",
	"тува":            "Республика Тыва",
	"марий эл":        "Республика Марий Эл",
	"кбр":             "Кабардино-Балкарская Республика",
	"кабардино-балкария": "Кабардино-Балкарская Республика",
	"кчр":             "Карачаево-Черкесская Республика",
	"карачаево-черкесия": "Карачаево-Черкесская Республика",
	"северная осетия": "Республика Северная Осетия — Алания",
	"осетия":          "Республика Северная Осетия — Алания",
	"алания":          "Республика Северная Осетия — Алания",
	"горный алтай":    "Республика Алтай",
	// административные центры, однозначно задающие субъект
	"екатеринбург":    "Свердловская область",
	"нижний новгород": "Нижегородская область",
	"новосибирск":     "Новосибирская область",
	"краснодар":       "Краснодарский край",
	"красноярск":      "Красноярский край",
	"казань":          "Республика Татарстан",
	"уфа":             "Республика Башкортостан",
	"самара":          "Самарская область",
	"ростов-на-дону":  "Ростовская область",
	"челябинск":       "Челябинская область",
	"омск":            "Омская область",
	"пермь":           "Пермский край",
	"воронеж":         "Воронежская область",
	"волгоград":       "Волгоградская область",
	"саратов":         "Саратовская область",
	"тюмень":          "Тюменская область",
	"владивосток":     "Приморский край",
	"иркутск":         "Иркутская область",
	"хабаровск":       "Хабаровский край",
	"ярославль":       "Ярославская область",
	"махачкала":       "Республика Дагестан",
	"томск":           "Томская область",
	"оренбург":        "Оренбургская область",
	"кемерово":        "Кемеровская область",
	"новокузнецк":     "Кемеровская область",
	"рязань":          "Рязанская область",
	"астрахань":       "Астраханская область",
	"пенза":           "Пензенская область",
	"липецк":          "Липецкая область",
	"тула":            "Тульская область",
	"киров":           "Кировская область",
	"чебоксары":       "Чувашская Республика",
	"калининград":     "Калининградская область",
	"брянск":          "Брянская область",
	"курск":           "Курская область",
	"иваново":         "Ивановская область",
	"магнитогорск":    "Челябинская область",
	"тверь":           "Тверская область",
	"ставрополь":      "Ставропольский край",
	"сочи":            "Краснодарский край",
	"белгород":        "Белгородская область",
	"сургут":          "Ханты-Мансийский автономный округ — Югра",
	"владимир":        "Владимирская область",
	"архангельск":     "Архангельская область",
	"чита":            "Забайкальский край",
	"калуга":          "Калужская область",
	"смоленск":        "Смоленская область",
	"волжский":        "Волгоградская область",
	"курган":          "Курганская область",
	"орел":            "Орловская область",
	"череповец":       "Вологодская область",
	"вологда":         "Вологодская область",
	"мурманск":        "Мурманская область",
	"тамбов":          "Тамбовская область",
	"грозный":         "Чеченская Республика",
	"якутск":          "Республика Саха (Якутия)",
	"кострома":        "Костромская область",
	"петрозаводск":    "Республика Карелия",
	"новгород":        "Новгородская область",
	"великий новгород": "Новгородская область",
	"псков":           "Псковская область",
	"сыктывкар":       "Республика Коми",
	"улан-удэ":        "Республика Бурятия",
	"барнаул":         "Алтайский край",
	"ижевск":          "Удмуртская Республика",
	"ульяновск":       "Ульяновская область",
	"саранск":         "Республика Мордовия",
	"йошкар-ола":      "Республика Марий Эл",
	"элиста":          "Республика Калмыкия",
	"майкоп":          "Республика Адыгея",
	"нальчик":         "Кабардино-Балкарская Республика",
	"черкесск":        "Карачаево-Черкесская Республика",
	"владикавказ":     "Республика Северная Осетия — Алания",
	"магас":           "Республика Ингушетия",
	"назрань":         "Республика Ингушетия",
	"симферополь":     "Республика Крым",
	"благовещенск":    "Амурская область",
	"биробиджан":      "Еврейская автономная область",
	"южно-сахалинск":  "Сахалинская область",
	"петропавловск-камчатский": "Камчатский край",
	"магадан":         "Магаданская область",
	"анадырь":         "Чукотский автономный округ",
	"нарьян-мар":      "Ненецкий автономный округ",
	"салехард":        "Ямало-Ненецкий автономный округ",
	"ханты-мансийск":  "Ханты-Мансийский автономный округ — Югра",
	"абакан":          "Республика Хакасия",
	"кызыл":           "Республика Тыва",
	"горно-алтайск":   "Республика Алтай",
}

// innPrefix — две первые цифры ИНН (код субъекта ФНС) → субъект федерации.
// Особые формы: Москва исторически выдаёт 77, 97 и 99, Крым — 82 и 91,
// Чечня — 20 и 95.
var innPrefix = map[string]string{
	"01": "Республика Адыгея",
	"02": "Республика Башкортостан",
	"03": "Республика Бурятия",
	"04": "Республика Алтай",
	"05": "Республика Дагестан",
	"06": "Республика Ингушетия",
	"07": "Кабардино-Балкарская Республика",
	"08": "Республика Калмыкия",
	"09": "Карачаево-Черкесская Республика",
	"10": "Республика Карелия",
	"11": "Республика Коми",
	"12": "Республика Марий Эл",
	"13": "Республика Мордовия",
	"14": "Республика Саха (Якутия)",
	"15": "Республика Северная Осетия — Алания",
	"16": "Республика Татарстан",
	"17": "Республика Тыва",
	"18": "Удмуртская Республика",
	"19": "Республика Хакасия",
	"20": "Чеченская Республика",
	"21": "Чувашская Республика",
	"22": "Алтайский край",
	"23": "Краснодарский край",
	"24": "Красноярский край",
	"25": "Приморский край",
	"26": "Ставропольский край",
	"27": "Хабаровский край",
	"28": "Амурская область",
	"29": "Архангельская область",
	"30": "Астраханская область",
	"31": "Белгородская область",
	"32": "Брянская область",
	"33": "Владимирская область",
	"34": "Волгоградская область",
	"35": "Вологодская область",
	"36": "Воронежская область",
	"37": "Ивановская область",
	"38": "Иркутская область",
	"39": "Калининградская область",
	"40": "Калужская область",
	"41": "Камчатский край",
	"42": "Кемеровская область",
	"43": "Кировская область",
	"44": "Костромская область",
	"45": "Курганская область",
	"46": "Курская область",
	"47": "Ленинградская область",
	"48": "Липецкая область",
	"49": "Магаданская область",
	"50": "Московская область",
	"51": "Мурманская область",
	"52": "Нижегородская область",
	"53": "Новгородская область",
	"54": "Новосибирская область",
	"55": "Омская область",
	"56": "Оренбургская область",
	"57": "Орловская область",
	"58": "Пензенская область",
	"59": "Пермский край",
	"60": "Псковская область",
	"61": "Ростовская область",
	"62": "Рязанская область",
	"63": "Самарская область",
	"64": "Саратовская область",
	"65": "Сахалинская область",
	"66": "Свердловская область",
	"67": "Смоленская область",
	"68": "Тамбовская область",
	"69": "Тверская область",
	"70": "Томская область",
	"71": "Тульская область",
	"72": "Тюменская область",
	"73": "Ульяновская область",
	"74": "Челябинская область",
	"75": "Забайкальский край",
	"76": "Ярославская область",
	"77": "Москва",
	"78": "Санкт-Петербург",
	"79": "Еврейская автономная область",
	"82": "Республика Крым",
	"83": "Ненецкий автономный округ",
	"86": "Ханты-Мансийский автономный округ — Югра",
	"87": "Чукотский автономный округ",
	"89": "Ямало-Ненецкий автономный округ",
	"91": "Республика Крым",
	"92": "Севастополь",
	"95": "Чеченская Республика",
	"97": "Москва",
	"99": "Москва",
}

// feedCode — идентификаторы субъектов в параметре selectedSubjectsIdNameHidden
// расширенного поиска zakupki.gov.ru. Таблица покрывает субъекты, по которым
// лента умеет фильтровать на сервере; для остальных фильтрация выполняется
// на клиенте после нормализации региона заказчика.
var feedCode = map[string]string{
	"Москва":                  "5277335",
	"Санкт-Петербург":         "5277384",
	"Московская область":      "5277327",
	"Краснодарский край":      "5277304",
	"Свердловская область":    "5277370",
	"Республика Татарстан":    "5277358",
	"Нижегородская область":   "5277336",
	"Новосибирская область":   "5277340",
	"Ростовская область":      "5277362",
	"Самарская область":       "5277364",
	"Челябинская область":     "5277387",
	"Красноярский край":       "5277305",
	"Пермский край":           "5277346",
	"Воронежская область":     "5277297",
	"Волгоградская область":   "5277293",
	"Республика Башкортостан": "5277287",
	"Саратовская область":     "5277366",
	"Тюменская область":       "5277375",
	"Оренбургская область":    "5277343",
	"Омская область":          "5277342",
	"Кемеровская область":     "5277300",
	"Хабаровский край":        "5277310",
	"Иркутская область":       "5277299",
	"Ленинградская область":   "5277316",
	"Алтайский край":          "5277282",
	"Приморский край":         "5277307",
	"Ульяновская область":     "5277377",
	"Ставропольский край":     "5277309",
	"Тульская область":        "5277374",
	"Владимирская область":    "5277292",
	"Ярославская область":     "5277391",
	"Калужская область":       "5277301",
	"Калининградская область": "5277302",
	"Томская область":         "5277372",
	"Рязанская область":       "5277363",
	"Тверская область":        "5277371",
	"Липецкая область":        "5277317",
	"Пензенская область":      "5277345",
	"Курская область":         "5277314",
	"Брянская область":        "5277290",
	"Белгородская область":    "5277288",
	"Архангельская область":   "5277284",
	"Смоленская область":      "5277368",
	"Вологодская область":     "5277294",
	"Курганская область":      "5277313",
	"Мурманская область":      "5277331",
	"Орловская область":       "5277344",
	"Тамбовская область":      "5277369",
	"Новгородская область":    "5277339",
	"Кировская область":       "5277303",
	"Костромская область":     "5277311",
	"Псковская область":       "5277351",
	"Ивановская область":      "5277298",
	"Амурская область":        "5277283",
	"Астраханская область":    "5277285",
	"Забайкальский край":      "5277306",
	"Республика Крым":         "9311040",
	"Севастополь":             "9310785",
}
