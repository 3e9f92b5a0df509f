package catalog

// DefaultTags is the tag dropdown used by the monitoring team's sheets.
var DefaultTags = []string{
	"Активні парки",
	"Альбом бб рішень",
	"ББ маршрути",
	"ББ укриття",
	"Безбар'єрність",
	"Вакансії",
	"Витачів",
	"КИТ Кураж",
	"Локо Сіті",
	"M86",
	"НУШ",
	"Облаштування житла",
	"Профтех",
	"Профтех Славутич",
	"Психкімнати",
	"ПУМБ",
	"Соцжитло",
	"Терсад",
	"Урбан-парк ВДНГ",
	"Школа Посад",
	`Виставка " 86дМ"`,
	"Трансформація шкіл",
	"Візія Маріуполя",
}

// Default returns the built-in catalog used when no catalog file is configured.
func Default() Catalog {
	tags := func() []string { return append([]string(nil), DefaultTags...) }

	return Catalog{
		CatchAll: Media,
		Routes: []Route{
			{Suffix: "facebook.com", Table: SocialNetworks, Label: "Facebook"},
			{Suffix: "instagram.com", Table: SocialNetworks, Label: "Instagram"},
			{Suffix: "twitter.com", Table: SocialNetworks, Label: "Twitter (X)"},
			{Suffix: "x.com", Table: SocialNetworks, Label: "Twitter (X)"},
			{Suffix: "linkedin.com", Table: SocialNetworks, Label: "LinkedIn"},
			{Suffix: "youtube.com", Table: SocialNetworks, Label: "YouTube"},
			{Suffix: "youtu.be", Table: SocialNetworks, Label: "YouTube"},
			{Suffix: "t.me", Table: SocialNetworks, Label: "Telegram"},
			{Suffix: "telegram.me", Table: SocialNetworks, Label: "Telegram"},
			{Suffix: "tiktok.com", Table: SocialNetworks, Label: "Tiktok"},
			{Suffix: "threads.net", Table: SocialNetworks, Label: "threads.net"},
			{Suffix: "soundcloud.com", Table: SocialNetworks, Label: "soundcloud"},
			{Suffix: "work.ua", Table: Vacancies},
			{Suffix: "robota.ua", Table: Vacancies},
			{Suffix: "jobs.dou.ua", Table: Vacancies},
		},
		Tables: []Table{
			{
				ID:         SocialNetworks,
				Sheet:      "Соцмережі {YEAR}",
				HeaderRows: 1,
				Tags:       tags(),
				Columns: []Column{
					{Field: FieldMonth, Header: "Місяць", Letter: "A"},
					{Field: FieldName, Header: "Назва", Letter: "B"},
					{Field: FieldDescription, Header: "Хто це", Letter: "C"},
					{Field: FieldTag, Header: "Тема", Letter: "D"},
					{Field: FieldNetwork, Header: "Соцмережа", Letter: "E"},
					{Field: FieldLink, Header: "Лінк", Letter: "F"},
					{Field: FieldNote, Header: "Примітки", Letter: "G"},
				},
			},
			{
				ID:         Media,
				Sheet:      "ЗМІ {YEAR}",
				HeaderRows: 1,
				Tags:       tags(),
				Columns: []Column{
					{Field: FieldMonth, Header: "Місяць", Letter: "A"},
					{Field: FieldName, Header: "Медіа", Letter: "B"},
					{Field: FieldTag, Header: "Тема", Letter: "C"},
					{Field: FieldLink, Header: "Лінк", Letter: "D"},
					{Field: FieldNote, Header: "Примітки", Letter: "E"},
				},
			},
			{
				ID:         Vacancies,
				Sheet:      "Вакансії",
				HeaderRows: 1,
				Tags:       tags(),
				Columns: []Column{
					{Field: FieldMonth, Header: "Місяць", Letter: "A"},
					{Field: FieldName, Header: "Назва", Letter: "B"},
					{Field: FieldTag, Header: "Тема", Letter: "C"},
					{Field: FieldLink, Header: "Лінк", Letter: "D"},
					{Field: FieldNote, Header: "Примітки", Letter: "E"},
				},
			},
		},
	}
}
