package domain

import (
	"fmt"
	"time"
)

// User identifies a registered conversational user. The name is the opaque
// identity the frontend sends; the numeric ID namespaces all storage.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Profile holds the long-lived per-user fields injected into model prompts.
type Profile struct {
	UserID          int64  `json:"user_id"`
	Name            string `json:"name"`
	Age             int    `json:"age,omitempty"`
	Gender          string `json:"gender,omitempty"`
	Hobbies         string `json:"hobbies,omitempty"`
	LivingSituation string `json:"living_situation,omitempty"`
	// DynamicHealth is the comma-joined chronic-condition note maintained
	// by the health extraction pipeline.
	DynamicHealth string `json:"dynamic_health,omitempty"`
	// EmotionalNeeds is the comma-joined deduplicated need set pushed by
	// the live and finalize paths.
	EmotionalNeeds string `json:"emotional_needs,omitempty"`
}

// Lines serializes the non-empty profile fields for prompt injection, one
// "标签：值" line per field.
func (p *Profile) Lines() []string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, label+"："+value)
		}
	}
	add("姓名", p.Name)
	if p.Age > 0 {
		add("年龄", fmt.Sprintf("%d", p.Age))
	}
	add("性别", p.Gender)
	add("爱好", p.Hobbies)
	add("居住情况", p.LivingSituation)
	add("既往健康情况", p.DynamicHealth)
	add("情感需求", p.EmotionalNeeds)
	return lines
}

// HealthLogEntry is one health issue observed in a finalized transcript.
type HealthLogEntry struct {
	Issue   string `json:"issue"`
	Context string `json:"context,omitempty"`
}

// CuratedAnswer is one row of the curated question/answer table used by the
// retrieval path for health questions.
type CuratedAnswer struct {
	ID       int64  `json:"id"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
	// Keywords is a comma-separated list used for overlap scoring.
	Keywords string `json:"keywords"`
}
