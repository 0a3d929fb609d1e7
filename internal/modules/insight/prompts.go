package insight

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
)

const behaviorPrompt = `分析这组连续帧中孩子的行为。请以 JSON 格式返回，包含以下字段：
{
  "activities": [
    {
      "type": "行为类型（sport/learning/art/music/social/independent/rest）",
      "description": "具体行为描述",
      "confidence": 0.0-1.0,
      "duration_pct": 0.0-1.0
    }
  ],
  "environment": "场景描述（室内/室外/学校等）",
  "interaction_mode": "互动模式（独处/与同伴/与成人）"
}
只返回 JSON，不要其他文字。`

func emotionPrompt(transcript string) string {
	var ctxLine string
	if transcript != "" {
		ctxLine = "\n孩子的语音内容：「" + truncateRunes(transcript, 500) + "」"
	}
	return `分析图片中孩子的情绪状态。` + ctxLine + `

请以 JSON 格式返回：
{
  "dominant": "主要情绪（happy/sad/angry/calm/excited/anxious/focused）",
  "scores": {
    "happy": 0.0-1.0,
    "sad": 0.0-1.0,
    "angry": 0.0-1.0,
    "calm": 0.0-1.0,
    "excited": 0.0-1.0,
    "anxious": 0.0-1.0,
    "focused": 0.0-1.0
  },
  "expression_description": "表情描述",
  "emotional_stability": 0.0-1.0
}
只返回 JSON，不要其他文字。`
}

// NarrativeInput feeds the long-form monthly narrative.
type NarrativeInput struct {
	ChildName       string
	AgeMonths       int
	Radar           growth.RadarData
	Sparks          []growth.SparkCard
	BehaviorSummary []map[string]any
	EmotionSummary  map[string]any
}

func narrativePrompt(in NarrativeInput) string {
	r := in.Radar
	var b strings.Builder
	b.WriteString("你是一位资深的儿童发展心理学专家，请为以下孩子撰写一份月度成长叙事报告。\n\n")
	fmt.Fprintf(&b, "## 孩子信息\n- 名字：%s\n- 月龄：%d 个月\n\n", in.ChildName, in.AgeMonths)
	fmt.Fprintf(&b, "## 兴趣偏好（0-1 分）\n- 运动：%.2f\n- 音乐：%.2f\n- 艺术：%.2f\n- 学习：%.2f\n- 社交：%.2f\n\n",
		r.Interest.Sport, r.Interest.Music, r.Interest.Art, r.Interest.Learning, r.Interest.Social)
	fmt.Fprintf(&b, "## 天赋指标（0-1 分）\n- 逻辑推理：%.2f\n- 空间想象：%.2f\n- 语言表达：%.2f\n- 运动协调：%.2f\n\n",
		r.Talent.Logic, r.Talent.Spatial, r.Talent.Language, r.Talent.Motor)
	fmt.Fprintf(&b, "## 心理特质（0-1 分）\n- 同理心：%.2f\n- 抗挫力：%.2f\n- 自信心：%.2f\n\n",
		r.Psychology.Empathy, r.Psychology.Resilience, r.Psychology.Confidence)

	b.WriteString("## 天赋火花\n")
	if len(in.Sparks) > 0 {
		b.WriteString(prettyJSON(in.Sparks))
	} else {
		b.WriteString("暂未检测到明显天赋火花")
	}
	b.WriteString("\n\n## 本月行为概览\n")
	if len(in.BehaviorSummary) > 0 {
		bs := in.BehaviorSummary
		if len(bs) > 5 {
			bs = bs[:5]
		}
		b.WriteString(prettyJSON(bs))
	} else {
		b.WriteString("暂无行为数据")
	}
	b.WriteString("\n\n## 情绪状态\n")
	if len(in.EmotionSummary) > 0 {
		b.WriteString(prettyJSON(in.EmotionSummary))
	} else {
		b.WriteString("暂无情绪数据")
	}
	b.WriteString(`

请按以下结构撰写报告（Markdown 格式，800-1200 字）：

### 本月成长亮点
（用温暖的语言描述孩子本月最突出的 2-3 个进步）

### 兴趣探索
（分析孩子的兴趣偏好变化，给出引导建议）

### 天赋发现
（如有火花卡片，重点描述；如无，鼓励继续观察）

### 情感世界
（分析情绪特征，给出亲子互动建议）

### 下月期待
（基于当前数据，给出 2-3 个具体的成长期待和建议）

语气要求：温暖、专业、鼓励性，用"您的孩子"或直接用孩子名字。`)
	return b.String()
}

// FallbackNarrative is the templated narrative used when generation fails.
func FallbackNarrative(name string) string {
	return "### 本月成长亮点\n\n" +
		name + "这个月继续保持着积极的成长态势，每一天都在用自己的方式探索这个世界。\n\n" +
		"### 兴趣探索\n\n" +
		"孩子在多个领域都展现出了好奇心，建议继续提供丰富多样的体验机会。\n\n" +
		"### 天赋发现\n\n" +
		"我们正在持续观察" + name + "的天赋特质，每个孩子都有独特的闪光点。\n\n" +
		"### 情感世界\n\n" +
		name + "的情绪表达越来越丰富，建议家长多给予积极的情感回应。\n\n" +
		"### 下月期待\n\n" +
		"继续保持对" + name + "的关注和陪伴，让成长的每一步都被温柔记录。"
}

const FallbackSummary = "本月孩子表现良好，各方面都在稳步成长。继续保持对孩子的关注和陪伴，让成长的每一步都被温柔记录。"

func pct(v float64) string { return fmt.Sprintf("%.0f%%", v*100) }

func summaryPrompt(r growth.RadarData, sparks []growth.SparkCard) string {
	var b strings.Builder
	b.WriteString("你是一位专业的儿童发展顾问。请根据以下数据，为家长撰写一份温暖、鼓励性的月度成长总结（200-300字）。\n\n")
	fmt.Fprintf(&b, "兴趣偏好分布：\n- 运动: %s\n- 音乐: %s\n- 艺术: %s\n- 学习: %s\n- 社交: %s\n\n",
		pct(r.Interest.Sport), pct(r.Interest.Music), pct(r.Interest.Art), pct(r.Interest.Learning), pct(r.Interest.Social))
	fmt.Fprintf(&b, "天赋指标：\n- 逻辑推理: %s\n- 空间想象: %s\n- 语言表达: %s\n- 运动协调: %s\n\n",
		pct(r.Talent.Logic), pct(r.Talent.Spatial), pct(r.Talent.Language), pct(r.Talent.Motor))
	fmt.Fprintf(&b, "心理特质：\n- 同理心: %s\n- 抗挫力: %s\n- 自信心: %s\n\n",
		pct(r.Psychology.Empathy), pct(r.Psychology.Resilience), pct(r.Psychology.Confidence))
	fmt.Fprintf(&b, "发现的天赋火花：%d 个\n", len(sparks))
	if len(sparks) == 0 {
		b.WriteString("暂无")
	} else {
		lines := make([]string, 0, len(sparks))
		for _, c := range sparks {
			lines = append(lines, fmt.Sprintf("- %s（置信度 %s）", c.TalentName, pct(c.Confidence)))
		}
		b.WriteString(strings.Join(lines, "\n"))
	}
	b.WriteString("\n\n请用第二人称（\"您的孩子\"）撰写，语气温暖积极，突出进步和亮点。")
	return b.String()
}

func prettyJSON(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
