package analyzer

import (
	"fmt"
	"strings"
)

// DefaultInstructions is the evaluation prompt used when the workflow has no
// agent_instructions setting. {niche} is replaced by the session topic.
const DefaultInstructions = `You are an SEO specialist and an experienced content writer evaluating keyword lists. Select the keywords that would support useful, in-depth articles for readers.

Every keyword belongs to the niche {niche}. Each keyword comes with a category inside that niche.

Start by identifying the intent of the keywords (informational, commercial, navigational, transactional) and the audience level they target (beginner, intermediate, expert).

Select a keyword only when all of these hold:
- It is grammatically and linguistically correct English.
- It is understandable on its own, without surrounding context.
- It can carry in-depth content that offers practical solutions or real information.
- It does not require expert-level knowledge to understand.

Treat every keyword with the same attention regardless of length or phrasing. Ignore search volume. When two keywords are nearly identical, keep the clearer one. Stay objective and do not speculate about the audience beyond what the keywords show.

Each list you receive is independent; never compare it with earlier lists.`

// outputContract is appended to the instructions so the reply can be decoded.
const outputContract = `

Respond ONLY with a JSON object of this shape:
{"audience_analysis": "who the keywords target and why", "valuable_keywords": [{"keyword": "exact keyword text", "reason": "why it was selected"}]}
Use an empty valuable_keywords array when nothing qualifies.`

func topicReplacer(topic string) *strings.Replacer {
	return strings.NewReplacer(
		"{niche}", topic,
		"{ niche }", topic,
		"{topic}", topic,
		"{ topic }", topic,
	)
}

// RenderInstructions substitutes the topic into an instruction template.
func RenderInstructions(template, topic string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultInstructions
	}
	return topicReplacer(strings.TrimSpace(topic)).Replace(template)
}

func buildSystemPrompt(instructions string) string {
	return strings.TrimSpace(instructions) + outputContract
}

func buildUserPrompt(req Request) string {
	var b strings.Builder
	if req.FirstRow > 0 && req.LastRow >= req.FirstRow {
		fmt.Fprintf(&b, "Please analyze the following keywords (rows %d to %d):\n\n", req.FirstRow, req.LastRow)
	} else {
		b.WriteString("Please analyze the following keywords:\n\n")
	}
	for _, item := range req.Items {
		fmt.Fprintf(&b, "- Keyword: %s, Category: %s\n", item.Term, item.Category)
	}
	return b.String()
}
