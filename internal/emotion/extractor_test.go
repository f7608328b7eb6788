package emotion

import (
	"reflect"
	"testing"
)

func TestExtractNeeds(t *testing.T) {
	t.Parallel()

	e := NewExtractor()
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"no signal", "今天天气不错", nil},
		{"empty text", "", nil},
		{"loneliness", "家里就我一个人，冷清得很", []string{NeedCompanionship}},
		{"health", "我睡不好，血压也有点高", []string{NeedHealthCare}},
		{"two needs ordered by rule", "一个人待着，心里难受", []string{NeedCompanionship, NeedComfort}},
		{"self-worth", "人老了，帮不上什么忙了", []string{NeedRecognition}},
		{"fear", "晚上总担心摔跤", []string{NeedSecurity}},
		{
			"one need per rule even with many keywords",
			"头晕，吃药也不见好，浑身疼",
			[]string{NeedHealthCare},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := e.ExtractNeeds(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ExtractNeeds(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}
