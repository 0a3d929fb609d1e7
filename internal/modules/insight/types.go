package insight

// Activity types the behavior prompt allows.
var ActivityTypes = []string{"sport", "learning", "art", "music", "social", "independent", "rest"}

// Emotions the emotion prompt allows.
var Emotions = []string{"happy", "sad", "angry", "calm", "excited", "anxious", "focused"}

type Activity struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	DurationPct float64 `json:"duration_pct"`
}

type BehaviorResult struct {
	Activities      []Activity `json:"activities"`
	Environment     string     `json:"environment"`
	InteractionMode string     `json:"interaction_mode"`
}

type EmotionResult struct {
	Dominant              string             `json:"dominant"`
	Scores                map[string]float64 `json:"scores"`
	ExpressionDescription string             `json:"expression_description"`
	EmotionalStability    float64            `json:"emotional_stability"`
}

const fallbackDescription = "分析失败"

// FallbackBehavior is returned whenever the model output cannot be used.
func FallbackBehavior() BehaviorResult {
	return BehaviorResult{
		Activities:      []Activity{{Type: "unknown", Description: fallbackDescription, Confidence: 0, DurationPct: 1.0}},
		Environment:     "unknown",
		InteractionMode: "unknown",
	}
}

// FallbackEmotion is returned whenever the model output cannot be used.
func FallbackEmotion() EmotionResult {
	return EmotionResult{
		Dominant: "calm",
		Scores: map[string]float64{
			"happy": 0.5, "calm": 0.5, "sad": 0, "angry": 0, "excited": 0, "anxious": 0, "focused": 0,
		},
		ExpressionDescription: fallbackDescription,
		EmotionalStability:    0.5,
	}
}
