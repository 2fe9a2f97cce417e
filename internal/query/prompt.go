package query

import (
	"fmt"
	"strings"
)

// NotEnoughInfo is the sentence the model must emit verbatim when a context
// does not answer the question. Callers may match on it.
const NotEnoughInfo = "The paper does not contain enough information for answering your question"

const chunkSystemPrompt = `You answer questions about a research paper using only the part of the paper you are given.

Rules:
- Use only the text between "Start of paper context" and "End of paper context". Do not use outside knowledge.
- If that text does not contain the answer, reply exactly: "` + NotEnoughInfo + `".
- Never invent links, URLs, references or citations that do not appear in the text.
- Answer in the language of the question.`

const mergeSystemPrompt = `You combine partial answers to one question into a single answer. Each partial answer was written from a different consecutive part of the same paper.`

const mergeRules = `Rules:
- Keep the order of the responses: information from Response 1 comes before information from Response 2, and so on.
- Do not omit information and do not repeat it.
- Do not combine or rewrite web links; keep each link exactly as written.
- Discard any response that says the paper does not contain enough information.
- If every response says so, reply exactly: "` + NotEnoughInfo + `".`

const prefilterSystemPrompt = `You select the sections of a paper that are most likely to answer a question. Respond with only a JSON array of section titles, copied exactly.`

// chunkPrompt frames one chunk of context around the question.
func chunkPrompt(context, question string) string {
	var sb strings.Builder
	sb.WriteString("Start of paper context:\n")
	sb.WriteString(context)
	sb.WriteString("\nEnd of paper context\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

// mergePrompt lists partial answers in chunk order under numbered labels.
func mergePrompt(question string, partials []string) string {
	var sb strings.Builder
	sb.WriteString(mergeRules)
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n")
	for i, p := range partials {
		fmt.Fprintf(&sb, "\nResponse %d:\n%s\n", i+1, strings.TrimSpace(p))
	}
	return sb.String()
}

func prefilterPrompt(question string, labels []string, k int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Return a JSON array with at most %d of the section titles below, most relevant first.\n\n", k)
	sb.WriteString("Question: ")
	sb.WriteString(question)
	sb.WriteString("\n\nSections:\n")
	for _, l := range labels {
		sb.WriteString("- ")
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	return sb.String()
}

func repairPrompt(reason string) string {
	return fmt.Sprintf("Your previous reply could not be used (%s). Reply again with only valid JSON and no other text.", reason)
}

// withQuote appends a quoted passage the user is asking about.
func withQuote(question, quote string) string {
	quote = strings.TrimSpace(quote)
	if quote == "" {
		return question
	}
	return question + "\n\nRegarding this passage: \"" + quote + "\""
}
