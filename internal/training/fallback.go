package training

import (
	"context"
	"strings"
)

type topic struct {
	Name     string
	Keywords []string
	Reply    string
}

// topics is ordered; the first topic whose keyword appears wins.
var topics = []topic{
	{
		Name:     "anxiety",
		Keywords: []string{"anxious", "anxiety", "worried", "worry", "scared", "afraid", "fear", "nervous", "panic"},
		Reply: "It is completely understandable to feel anxious about this, and I'm glad you reached out instead of keeping it to yourself. " +
			"Most breast changes turn out to be benign, but the best way to ease the worry is to get clear answers. " +
			"Let's take it one step at a time: write down what you have noticed and when, and book an appointment with your doctor so they can examine you properly. " +
			"You don't have to go through this alone, and asking questions early is exactly the right thing to do.",
	},
	{
		Name:     "technique",
		Keywords: []string{"self-exam", "self exam", "technique", "how to check", "examine"},
		Reply: "A monthly self-exam works best a few days after your period ends, when breast tissue is least tender. " +
			"Use the pads of your three middle fingers and move in small circles, covering the whole breast from the collarbone to the bra line and from the armpit to the breastbone. " +
			"Vary the pressure from light to firm, check both lying down and standing in front of a mirror, and look for changes in shape, skin texture or the nipple. " +
			"The goal is to learn what is normal for you, so that anything new stands out.",
	},
	{
		Name:     "family_history",
		Keywords: []string{"family", "mother", "sister", "aunt", "genetic", "hereditary", "brca"},
		Reply: "Family history is an important part of your risk picture, and it's good that you are thinking about it. " +
			"Having a close relative such as a mother or sister with breast cancer can raise your risk, especially if they were diagnosed before 50. " +
			"A genetic counsellor can help decide whether BRCA testing makes sense for you, and your doctor may suggest starting screening earlier or more often. " +
			"Knowing your history gives you the chance to act early rather than wait.",
	},
	{
		Name:     "screening",
		Keywords: []string{"mammogram", "screening", "ultrasound", "test", "scan"},
		Reply: "Screening is one of the most effective tools we have for finding changes early, when they are easiest to treat. " +
			"A mammogram takes only a few minutes; the compression can be uncomfortable but it is brief, and telling the radiographer how you feel really helps. " +
			"Depending on your age and breast density, your doctor may also recommend an ultrasound. " +
			"If you let me know your age and when you were last screened, we can work out what schedule fits you.",
	},
	{
		Name:     "lifestyle",
		Keywords: []string{"diet", "exercise", "alcohol", "weight", "lifestyle", "smoking"},
		Reply: "Everyday habits do make a difference to long-term breast health. " +
			"Regular physical activity, around 150 minutes a week, keeping a healthy weight and limiting alcohol are the changes with the strongest evidence. " +
			"A diet rich in vegetables, fruit and whole grains supports all of these. " +
			"Small, steady changes are easier to keep than big ones, so pick one goal that feels realistic for the next month and build from there.",
	},
}

const genericFallbackReply = "Thank you for sharing that with me. Every question about your breast health matters, and there is no such thing as a silly one. " +
	"Paying attention to changes in your body and talking to a healthcare professional early are the two most important steps you can take. " +
	"Could you tell me a little more about what is on your mind, so I can give you information that fits your situation?"

// matchTopic returns the first topic mentioned in text, or nil.
func matchTopic(text string) *topic {
	lower := strings.ToLower(text)
	for i := range topics {
		for _, kw := range topics[i].Keywords {
			if strings.Contains(lower, kw) {
				return &topics[i]
			}
		}
	}
	return nil
}

// detectTopics returns every topic mentioned in text, in table order.
func detectTopics(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, t := range topics {
		for _, kw := range t.Keywords {
			if strings.Contains(lower, kw) {
				out = append(out, t.Name)
				break
			}
		}
	}
	return out
}

func detectEmotion(text string) string {
	if t := matchTopic(text); t != nil && t.Name == "anxiety" {
		return "anxious"
	}
	if strings.Contains(text, "?") {
		return "curious"
	}
	return "neutral"
}

// FallbackReply picks the canned answer for message by keyword.
func FallbackReply(message string) string {
	if t := matchTopic(message); t != nil {
		return t.Reply
	}
	return genericFallbackReply
}

const fallbackScore = 75

// KeywordFallback is the terminal strategy: it always produces a reply.
type KeywordFallback struct{}

func (KeywordFallback) Name() string { return "keyword_fallback" }

func (KeywordFallback) Attempt(ctx context.Context, in GenerationInput) (Result, error) {
	return Result{
		Text:   FallbackReply(in.Message),
		Score:  fallbackScore,
		Source: SourceFallback,
	}, nil
}
