package pipeline

import (
	"fmt"
	"strings"
)

const promptMarker = "INKPRESS_PROMPT_STYLE_V1"

// systemFor wraps a role line with the house guidance block. The marker keeps
// the block from being stacked twice when a caller composes prompts.
func systemFor(role string) string {
	role = strings.TrimSpace(role)
	if strings.Contains(role, promptMarker) {
		return role
	}
	var b strings.Builder
	b.WriteString(promptMarker)
	b.WriteString("\n")
	b.WriteString(role)
	b.WriteString("\nReturn a single JSON object that conforms to the requested shape and contains no extra keys.")
	b.WriteString("\nGround every observation in the provided text; do not invent quotes or facts.")
	b.WriteString("\nDo not add commentary outside the JSON object.")
	return b.String()
}

func sectionHeader(job *AnalysisJob, sec Section, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Manuscript: %s\n", job.Title)
	if job.Genre != "" {
		fmt.Fprintf(&b, "Genre: %s\n", job.Genre)
	}
	if job.StyleGuide != "" {
		fmt.Fprintf(&b, "Style guide: %s\n", job.StyleGuide)
	}
	fmt.Fprintf(&b, "Section %d of %d (%d words).\n", sec.Index, total, sec.Words)
	return b.String()
}

func developmentalPrompt(job *AnalysisJob, sec Section, total int) string {
	return sectionHeader(job, sec, total) + `
Assess this section as a developmental editor. Return JSON:
{"summary": string,
 "strengths": [string],
 "issues": [{"type": "structure|pacing|character|plot|tension|clarity", "severity": "low|medium|high", "note": string, "suggestion": string}],
 "pacing": "slow|steady|fast"}

Rules:
- summary: 1-2 sentences.
- issues: only genuine problems; an empty array is a valid answer.
- suggestion: concrete and actionable, not generic advice.

Text:
` + sec.Text
}

func lineEditingPrompt(job *AnalysisJob, sec Section, total int) string {
	return sectionHeader(job, sec, total) + `
Line-edit this section. Return JSON:
{"issues": [{"quote": string, "problem": string, "rewrite": string, "severity": "low|medium|high"}],
 "toneNotes": string}

Rules:
- quote: the exact offending phrase, at most 15 words, verbatim from the text.
- rewrite: the full replacement phrase.
- Focus on wordiness, weak verbs, filter words, repeated sentence shapes.

Text:
` + sec.Text
}

func copyEditingPrompt(job *AnalysisJob, sec Section, total int) string {
	guide := job.StyleGuide
	if guide == "" {
		guide = "chicago"
	}
	return sectionHeader(job, sec, total) + fmt.Sprintf(`
Copy-edit this section against the %q style guide. Return JSON:
{"issues": [{"quote": string, "rule": string, "correction": string}],
 "consistency": [string]}

Rules:
- quote: the exact text containing the error.
- rule: the grammar/punctuation/usage rule violated, named briefly.
- consistency: spellings or hyphenations that vary across the section.

Text:
`, guide) + sec.Text
}

// excerpt returns the opening of the manuscript for single-call stages that
// need grounding without the full text.
func excerpt(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ")
}
