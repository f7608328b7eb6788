// Package emotion infers emotional-need labels from user messages.
package emotion

import "strings"

// Need labels produced by the extractor.
const (
	NeedCompanionship = "陪伴"
	NeedListening     = "倾听"
	NeedComfort       = "安慰"
	NeedHealthCare    = "健康关注"
	NeedRecognition   = "被认可"
	NeedSecurity      = "安全感"
)

type rule struct {
	need     string
	keywords []string
}

// Extractor maps message text to emotional-need labels with a deterministic
// keyword ruleset. Rule order fixes label order in the output.
type Extractor struct {
	rules []rule
}

// NewExtractor creates the default extractor.
func NewExtractor() *Extractor {
	return &Extractor{rules: []rule{
		{NeedCompanionship, []string{"孤独", "寂寞", "一个人", "没人陪", "没人说话", "冷清"}},
		{NeedListening, []string{"想念", "想起", "回忆", "当年", "年轻的时候", "过去"}},
		{NeedComfort, []string{"难受", "难过", "伤心", "委屈", "心里不", "哭", "烦"}},
		{NeedHealthCare, []string{"睡不好", "失眠", "疼", "头晕", "血压", "吃药", "病", "不舒服"}},
		{NeedRecognition, []string{"老了", "不中用", "没用了", "拖累", "帮不上"}},
		{NeedSecurity, []string{"害怕", "担心", "不安", "怕"}},
	}}
}

// ExtractNeeds returns the ordered, deduplicated need labels for a message.
// An empty result means no need was detected; the call never fails.
func (e *Extractor) ExtractNeeds(text string) []string {
	if text == "" {
		return nil
	}
	var needs []string
	for _, r := range e.rules {
		for _, kw := range r.keywords {
			if strings.Contains(text, kw) {
				needs = append(needs, r.need)
				break
			}
		}
	}
	return needs
}
