package filter

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"news_bot/internal/model"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  model.Category
	}{
		{name: "power outage", title: "Плановое отключение электроснабжения 12 марта", want: model.CategoryPower},
		{name: "power upper case", title: "ОТКЛЮЧЕНИЕ ЭЛЕКТРОСНАБЖЕНИЯ", want: model.CategoryPower},
		{name: "water supply", title: "Об отключении водоснабжения", want: model.CategoryWater},
		{name: "water genitive", title: "Отключение воды по ул. Советская, 12-20", want: model.CategoryWater},
		{name: "water nominative", title: "Горячая вода будет отключена", want: model.CategoryWater},
		{name: "power wins over water", title: "Электроснабжение и водоснабжение восстановлено", want: model.CategoryPower},
		{name: "regular news", title: "День города пройдёт 20 июня", want: model.CategoryOther},
		{name: "generic outage is other", title: "Отключение газа", want: model.CategoryOther},
		{name: "empty title", title: "", want: model.CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Categorize(tt.title)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsUtility(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  bool
	}{
		{name: "power", title: "Отключение электроснабжения", want: true},
		{name: "water", title: "Вода по графику", want: true},
		{name: "generic outage", title: "Об отключении газа", want: true},
		{name: "regular", title: "Итоги конкурса рисунков", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, IsUtility(tt.title)); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
