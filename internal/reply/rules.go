package reply

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/ent0n29/serene/internal/session"
)

type Category string

const (
	CategoryGreeting      Category = "greeting"
	CategoryAnxiety       Category = "anxiety"
	CategorySadness       Category = "sadness"
	CategoryStress        Category = "stress"
	CategoryAnger         Category = "anger"
	CategoryLonely        Category = "lonely"
	CategoryGeneral       Category = "general"
	CategoryEncouragement Category = "encouragement"
)

// Rule maps keywords to a category. Rules are evaluated in order and the
// first rule with a keyword contained in the lower-cased utterance wins.
type Rule struct {
	Category Category
	Keywords []string
}

// DefaultRules is the keyword priority order.
var DefaultRules = []Rule{
	{CategoryAnxiety, []string{"anxious", "anxiety", "worried", "nervous", "panic", "overwhelmed", "stressed out"}},
	{CategorySadness, []string{"sad", "depressed", "down", "upset", "crying", "tears", "heartbroken", "grief"}},
	{CategoryStress, []string{"stress", "stressed", "pressure", "busy", "overwhelmed", "exhausted", "tired"}},
	{CategoryAnger, []string{"angry", "mad", "furious", "frustrated", "irritated", "annoyed"}},
	{CategoryLonely, []string{"lonely", "alone", "isolated", "disconnected", "empty"}},
}

// EncouragementChance is the probability of an encouragement reply when no
// keyword matched.
const EncouragementChance = 0.3

// Pools holds the candidate replies per category.
var Pools = map[Category][]string{
	CategoryGreeting: {
		"It's wonderful that you're here. Taking the time to check in with yourself shows real self-awareness. What's been on your mind lately?",
		"I'm glad you decided to reach out today. Creating space for our thoughts and feelings is so important. How are you feeling right now?",
		"Thank you for being here. I can sense that you're making an effort to connect with yourself, and that takes courage. What would you like to explore today?",
	},
	CategoryAnxiety: {
		"It sounds like you're experiencing some anxiety, and that can feel really overwhelming. Remember that anxiety is your mind trying to protect you, even though it doesn't always feel helpful. What do you think might be contributing to these feelings?",
		"I hear that you're feeling anxious. That's a completely valid experience, and you're not alone in feeling this way. Sometimes it helps to ground ourselves in the present moment. Can you tell me about something you can see, hear, or feel right now?",
		"Anxiety can feel so intense and consuming. I want you to know that what you're experiencing is real and valid. Have you noticed any patterns in when these feelings tend to arise?",
	},
	CategorySadness: {
		"I can hear the sadness in what you're sharing, and I want you to know that it's okay to feel this way. Sadness often comes when something meaningful to us has been affected. Would you feel comfortable sharing what's been weighing on your heart?",
		"It takes strength to acknowledge and sit with difficult emotions like sadness. I'm here with you in this moment. Sometimes sadness is our heart's way of processing something important. What do you think your sadness might be telling you?",
		"Thank you for trusting me with your sadness. These feelings can feel so heavy, but you don't have to carry them alone. What kind of support feels most helpful to you right now?",
	},
	CategoryStress: {
		"It sounds like you're dealing with a lot of stress right now. When we're overwhelmed, it can feel like everything is urgent and demanding our attention at once. What feels like the most pressing concern for you today?",
		"Stress can make everything feel more difficult and intense. I want to acknowledge how hard you're working to manage everything on your plate. What would it feel like to give yourself permission to slow down, even just for a moment?",
		"I hear that you're feeling stressed, and that must be exhausting. Sometimes stress is our body and mind's way of telling us we need support or a different approach. What do you think you need most right now?",
	},
	CategoryAnger: {
		"I can sense there's some anger here, and anger often carries important information about our boundaries and values. It's okay to feel angry - it's a valid emotion. What do you think your anger might be trying to tell you?",
		"Anger can feel so intense and sometimes frightening, but it's often protecting something important to us. Thank you for sharing this with me. What feels most important for you to be heard about right now?",
		"I hear your anger, and I want you to know that it's completely valid to feel this way. Anger often arises when something we care about has been threatened or hurt. What matters most to you in this situation?",
	},
	CategoryLonely: {
		"Loneliness can feel so isolating and painful. I want you to know that even though you might feel alone, you're not truly alone - I'm here with you right now. What does loneliness feel like for you?",
		"I hear that you're feeling lonely, and that's such a difficult emotion to sit with. Loneliness often tells us about our deep human need for connection. What kind of connection do you find yourself longing for?",
		"Thank you for sharing about your loneliness with me. It takes vulnerability to name that feeling. Even in this moment, you're reaching out and connecting, which shows real courage. What small step toward connection might feel possible today?",
	},
	CategoryGeneral: {
		"I'm listening, and I can hear that there's something important you're working through. Take your time - there's no rush. What feels most important for you to share right now?",
		"Thank you for trusting me with what's on your mind. I can sense that you're reflecting deeply on your experience. What would it be like to approach yourself with the same kindness you'd show a good friend?",
		"I appreciate you taking the time to check in with yourself. Self-reflection takes courage and shows real commitment to your wellbeing. What are you noticing about yourself in this moment?",
		"What you're sharing sounds really important, and I want to make sure I understand. Sometimes it helps to slow down and really notice what we're experiencing. What emotions are coming up for you as you think about this?",
		"I can hear that you're processing something significant. It's okay to take your time with difficult thoughts and feelings. What would feel most supportive for you right now?",
	},
	CategoryEncouragement: {
		"I want to reflect back something I'm noticing - you're showing real strength and self-awareness by being here and exploring these feelings. That's not always easy to do.",
		"It sounds like you're being really thoughtful about your experience, and that kind of self-reflection is a gift you're giving yourself. How does it feel to take this time for yourself?",
		"I'm struck by your willingness to be open and honest about what you're going through. That takes real courage, and I hope you can acknowledge that strength in yourself.",
	},
}

// RuleGenerator answers from canned pools keyed by emotional keywords. It
// never fails.
type RuleGenerator struct {
	rules []Rule
	pools map[Category][]string

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRuleGenerator builds the rule engine. A nil source uses a randomly
// seeded generator.
func NewRuleGenerator(src rand.Source) *RuleGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RuleGenerator{
		rules: DefaultRules,
		pools: Pools,
		rng:   rand.New(src),
	}
}

func (g *RuleGenerator) Reply(_ context.Context, history []session.ChatMessage, utterance string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cat := g.classify(history, utterance)
	return g.pick(cat), nil
}

func (g *RuleGenerator) classify(history []session.ChatMessage, utterance string) Category {
	if len(history) <= 1 {
		return CategoryGreeting
	}
	if cat, ok := MatchKeywords(g.rules, utterance); ok {
		return cat
	}
	if g.rng.Float64() < EncouragementChance {
		return CategoryEncouragement
	}
	return CategoryGeneral
}

func (g *RuleGenerator) pick(cat Category) string {
	pool := g.pools[cat]
	if len(pool) == 0 {
		pool = g.pools[CategoryGeneral]
	}
	return pool[g.rng.IntN(len(pool))]
}

// MatchKeywords returns the first rule category whose keyword appears in
// the lower-cased text.
func MatchKeywords(rules []Rule, text string) (Category, bool) {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Category, true
			}
		}
	}
	return "", false
}

// PoolOf reports which category a reply text belongs to.
func PoolOf(text string) (Category, bool) {
	for cat, pool := range Pools {
		for _, candidate := range pool {
			if candidate == text {
				return cat, true
			}
		}
	}
	return "", false
}
