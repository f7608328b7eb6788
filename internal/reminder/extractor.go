// Package reminder extracts reminder requests from chat turns and dispatches
// them when due.
package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/elderlink/companion/internal/domain"
)

// Extracted is a reminder request parsed from message text.
type Extracted struct {
	Time       string // "15:04"
	Content    string
	RepeatType string
	Weekdays   []int
	Date       string // "2006-01-02", one-shot only
}

// reminderPattern matches phrases like "8点提醒我吃药", "每天早上7点半提醒我
// 量血压", "明天下午3点提醒我去医院". The hour is digits; the minute part is
// optional digits or 半.
var reminderPattern = regexp.MustCompile(
	`(每天|每周[一二三四五六日天]|明天)?\s*(凌晨|早上|上午|中午|下午|晚上)?\s*(\d{1,2})[点:：](半|\d{1,2})?分?\s*提醒我(.+)`,
)

var weekdayNames = map[string]int{
	"日": 0, "天": 0, "一": 1, "二": 2, "三": 3, "四": 4, "五": 5, "六": 6,
}

// Extract parses a reminder request out of message text. Returns nil when
// the text contains no reminder phrase. now anchors relative dates (明天).
func Extract(text string, now time.Time) *Extracted {
	m := reminderPattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	repeat, period, hourStr, minuteStr, content := m[1], m[2], m[3], m[4], m[5]

	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return nil
	}
	minute := 0
	switch {
	case minuteStr == "半":
		minute = 30
	case minuteStr != "":
		minute, err = strconv.Atoi(minuteStr)
		if err != nil || minute > 59 {
			return nil
		}
	}
	// 下午3点 means 15:00; noon and later periods shift the hour.
	if hour < 12 {
		switch period {
		case "下午", "晚上":
			hour += 12
		case "中午":
			if hour <= 1 {
				hour += 12
			}
		}
	}

	content = strings.TrimSpace(strings.Trim(content, "。！？!?，, "))
	if content == "" {
		return nil
	}

	out := &Extracted{
		Time:       fmt.Sprintf("%02d:%02d", hour, minute),
		Content:    content,
		RepeatType: domain.RepeatNone,
	}
	switch {
	case repeat == "每天":
		out.RepeatType = domain.RepeatDaily
	case strings.HasPrefix(repeat, "每周"):
		day, ok := weekdayNames[strings.TrimPrefix(repeat, "每周")]
		if !ok {
			return nil
		}
		out.RepeatType = domain.RepeatWeekly
		out.Weekdays = []int{day}
	case repeat == "明天":
		out.Date = now.AddDate(0, 0, 1).Format("2006-01-02")
	}
	return out
}

// StripImageMarker removes a trailing image-attachment block from message
// text before reminder scanning. Image markers are not reminder content.
func StripImageMarker(text string) string {
	if idx := strings.Index(text, "\nImages in this message:"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
