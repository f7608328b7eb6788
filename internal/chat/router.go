package chat

import (
	"context"
	"log/slog"
	"strings"

	"github.com/elderlink/companion/internal/domain"
	"github.com/elderlink/companion/internal/llm"
	"github.com/elderlink/companion/internal/rag"
)

// Answer sources.
const (
	SourceRAG = "rag"
	SourceLLM = "llm"
)

// systemPrompt is the fixed companion persona. The reply-style constraints
// live here rather than in code.
const systemPrompt = `你是一个安静、温和、克制、像老邻居一样陪在身边的对话助手，你的名字叫小新。

你的任务不是聊天表现好，也不是引导对方多说，而是在对方需要时回应，在对方停下时安静，让老人感到被理解、被尊重、不被打扰。

整体风格要求：
语气自然、口语化，像坐在一旁晒太阳、随口应声。
单次回复不超过 15 个汉字，总句数≤2句。
多附和、多共情，少引导、少总结。
不说教、不鼓励、不拔高意义。
不刻意制造“陪伴感”，而是自然存在。

对话核心规则：
一，情绪优先于内容。
老人表达感受、感慨、回忆时，第一反应是接住情绪，而不是接信息。可以只附和，不需要推进对话。

二，尽量不问，非问不可时只说一句“咋样？”
每轮最多 1 个问句，优先用陈述句、附和句。

三，不推动、不转换话题。
不主动引导讲故事，不从过去拉到现在，也不从情绪跳到建议。顺着老人当下的话回应即可。

四，面对衰老、无用感的处理方式。
当老人说“老了”“不中用了”“没用了”时：
先接住情绪，表示“我懂”。
肯定其存在本身，而不是能力或成就。
不要求回忆辉煌，不鼓励再证明自己。

五，尊重结束信号。
当老人说要睡觉、休息、不说了、去忙时：
自然结束对话并送上简单祝福“好，慢走”。
不挽留、不延长、不继续陪聊。

表达细节规范：
用词简单，避免书面语。
表情符号只在句末使用，每次最多 1 个，可不用。
用“嗯/我懂/在呢”代替书面词。

特殊场景回应：
如果老人说“几点提醒我干嘛”，答：“我记住了，到时间提醒您。”
如果发小闹钟图标+一件事，答：“到时间了，您该【事件】。”

健康与医疗相关问题（仅在老人主动询问时回答）：
回答需清楚、通俗，3 句话内说完，不列条目。
不制造焦虑，不诊断，不替代医生判断。

角色定位提醒：
你不是咨询师，也不是老师。
你只是坐在旁边、听着、应着的熟人。
老人不说，你就安静；老人停下，你就放手。`

// ProfileSource reads the long-lived profile used for prompt injection.
type ProfileSource interface {
	GetProfileByName(ctx context.Context, name string) (*domain.Profile, error)
}

// RouteInput carries everything one answer decision needs.
type RouteInput struct {
	UserName     string
	Message      string
	Needs        []string
	History      []domain.Turn
	RAGEnabled   bool
	RAGThreshold float64
	Sampling     llm.Sampling
	ImageBase64  string
}

// Answer is the routed reply and where it came from.
type Answer struct {
	Text   string
	Source string
}

// Router decides per turn between the curated retrieval path and the model.
type Router struct {
	retrieval *rag.Service
	completer llm.Completer
	profiles  ProfileSource
	logger    *slog.Logger
}

// NewRouter wires the answer router.
func NewRouter(retrieval *rag.Service, completer llm.Completer, profiles ProfileSource, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{retrieval: retrieval, completer: completer, profiles: profiles, logger: logger}
}

// Route answers one turn. Health-related questions try the curated table
// first; a sub-threshold match falls through to the model, never to a miss
// marker. A retrieval error is logged and degrades to the model path; a model
// failure aborts the turn as an upstream error.
func (r *Router) Route(ctx context.Context, in RouteInput) (Answer, error) {
	healthTopic := rag.IsHealthRelated(in.Message)

	if in.RAGEnabled && healthTopic {
		answer, score, ok, err := r.retrieval.Lookup(ctx, in.Message, in.RAGThreshold)
		if err != nil {
			r.logger.Warn("Curated lookup failed, falling back to model", "user", in.UserName, "error", err)
		} else if ok {
			r.logger.Info("Answered from curated table", "user", in.UserName, "score", score)
			return Answer{Text: answer, Source: SourceRAG}, nil
		}
	}

	profile, err := r.profiles.GetProfileByName(ctx, in.UserName)
	if err != nil {
		r.logger.Warn("Profile load failed, prompting without profile", "user", in.UserName, "error", err)
		profile = nil
	}

	prompt := llm.Prompt{
		System:   systemPrompt,
		Blocks:   contextBlocks(profile, healthTopic, in.Needs, in.History),
		History:  in.History,
		UserTurn: in.Message,
	}

	text, err := r.completer.Generate(ctx, prompt, in.Sampling, in.ImageBase64)
	if err != nil {
		return Answer{}, &UpstreamError{Err: err}
	}
	return Answer{Text: strings.TrimSpace(text), Source: SourceLLM}, nil
}

// contextBlocks evaluates each conditional prompt section exactly once per
// turn.
func contextBlocks(profile *domain.Profile, healthTopic bool, needs []string, history []domain.Turn) []llm.Block {
	var profileText string
	if profile != nil {
		if lines := profile.Lines(); len(lines) > 0 {
			profileText = "以下是该用户的基本资料：\n" + strings.Join(lines, "\n")
		}
	}

	var healthText string
	if profile != nil && profile.DynamicHealth != "" {
		healthText = "该用户曾经患有以下疾病：" + profile.DynamicHealth + "。请在合适的时机关心用户的健康情况。"
	}

	var needsText string
	if len(needs) > 0 {
		needsText = "用户当前情感需求：" + strings.Join(needs, ", ") + "。请根据需求提供相应支持。"
	}

	var revisitText string
	if issues := rag.RecentHealthIssues(history); len(issues) > 0 {
		var b strings.Builder
		b.WriteString("历史健康信息提醒：")
		for _, issue := range issues {
			b.WriteString("\n- 用户之前提到过")
			b.WriteString(issue)
			b.WriteString("，请在回复中适当询问恢复情况")
		}
		revisitText = b.String()
	}

	return []llm.Block{
		{Text: profileText, Include: profileText != ""},
		{Text: healthText, Include: healthTopic && healthText != ""},
		{Text: needsText, Include: needsText != ""},
		{Text: revisitText, Include: revisitText != ""},
	}
}
