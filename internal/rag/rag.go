// Package rag answers health questions from a curated knowledge table before
// falling back to free generation.
package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/elderlink/companion/internal/domain"
)

// healthKeywords gates the retrieval path: only health-flavored input is
// worth a curated lookup.
var healthKeywords = []string{
	"血压", "血糖", "高血压", "糖尿病", "心脏", "失眠", "睡不好", "睡不着",
	"头晕", "头疼", "头痛", "胃", "腿疼", "腰疼", "关节", "吃药", "药",
	"医院", "医生", "体检", "感冒", "发烧", "咳嗽", "病", "不舒服", "疼",
}

// IsHealthRelated reports whether the message is a health topic.
func IsHealthRelated(text string) bool {
	for _, kw := range healthKeywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// AnswerSource supplies the curated QA rows. The SQLite repository
// satisfies it.
type AnswerSource interface {
	CuratedAnswers(ctx context.Context) ([]domain.CuratedAnswer, error)
}

// Service scores curated answers against a question.
type Service struct {
	source AnswerSource
}

// NewService creates a retrieval service over the given answer source.
func NewService(source AnswerSource) *Service {
	return &Service{source: source}
}

// Lookup returns the best curated answer whose score clears the threshold.
// A miss is (ok=false), never a marker string; the caller falls through to
// the model path.
func (s *Service) Lookup(ctx context.Context, question string, threshold float64) (answer string, score float64, ok bool, err error) {
	rows, err := s.source.CuratedAnswers(ctx)
	if err != nil {
		return "", 0, false, fmt.Errorf("load curated answers: %w", err)
	}

	var best domain.CuratedAnswer
	bestScore := 0.0
	for _, row := range rows {
		if sc := scoreRow(question, row); sc > bestScore {
			best, bestScore = row, sc
		}
	}
	if bestScore < threshold || best.Answer == "" {
		return "", bestScore, false, nil
	}
	return best.Answer, bestScore, true, nil
}

// scoreRow is the fraction of the row's keywords present in the question.
func scoreRow(question string, row domain.CuratedAnswer) float64 {
	keywords := strings.Split(row.Keywords, ",")
	total, matched := 0, 0
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		total++
		if strings.Contains(question, kw) {
			matched++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(matched) / float64(total)
}

// RecentHealthIssues scans prior user turns for health topics the user
// already raised, in first-mention order. Drives the "revisit past issues"
// prompt block.
func RecentHealthIssues(history []domain.Turn) []string {
	seen := make(map[string]bool)
	var issues []string
	for _, turn := range history {
		if !turn.IsUser() {
			continue
		}
		for _, kw := range healthKeywords {
			if strings.Contains(turn.Content, kw) && !seen[kw] {
				seen[kw] = true
				issues = append(issues, kw)
			}
		}
	}
	return issues
}

// DefaultCuratedAnswers seeds the knowledge table on first run.
func DefaultCuratedAnswers() []domain.CuratedAnswer {
	return []domain.CuratedAnswer{
		{
			Question: "血压高怎么办",
			Answer:   "平时少吃咸的，按时吃降压药，每天量一次血压。要是头晕得厉害，就去医院看看。",
			Keywords: "血压,高血压",
		},
		{
			Question: "晚上睡不好怎么办",
			Answer:   "睡前别喝浓茶，白天晒晒太阳活动活动。要是长期失眠，让医生帮您看看。",
			Keywords: "失眠,睡不好,睡不着",
		},
		{
			Question: "腿疼关节疼怎么办",
			Answer:   "天凉注意保暖，少走远路。疼得厉害别硬扛，去医院查一查。",
			Keywords: "腿疼,关节",
		},
		{
			Question: "感冒了怎么办",
			Answer:   "多喝温水多休息。要是发烧咳嗽超过三天，得去医院。",
			Keywords: "感冒,发烧,咳嗽",
		},
		{
			Question: "忘了吃药怎么办",
			Answer:   "想起来就赶紧补上，下一顿别吃双份。可以让我定个提醒。",
			Keywords: "吃药,忘了",
		},
	}
}
