// Package research answers short factual questions by planning searches,
// collecting web evidence in the languages most likely to hold it, and
// choosing a single verified answer.
package research

import (
	"math"
	"strconv"
	"strings"

	"skillagent/internal/domain"
)

// SystemPrompt steers a general tool-calling agent toward research answers:
// one searched, verifiable value and nothing else.
const SystemPrompt = `You are a research agent. Reply with the final answer only: a single name, a single number, or a single short phrase. Never include your reasoning in the final reply.

Rules:
1. Use web_search for any factual or scholarly lookup. Search repeatedly with different keyword combinations (names, venues, years, methods) until the answer is well supported. Do not assume the tool is unavailable.
2. The final reply contains the answer and nothing more. No explanation, no quotations, no sentences about what could not be found. If the answer is still unclear after several searches, reply with one token such as "unknown" or with the best supported name or number.
3. When the question prescribes a format, for example postal codes separated by commas, follow it exactly.
4. Answer in the language of the question unless the question asks for another one.
5. Give numeric answers as integers where that makes sense, for example "140".
6. Write names of people, companies and organizations in their full official form, copied exactly as the search results spell them. Do not abbreviate.
7. For questions about an author or an article, run several searches with different queries and use the snippets to identify the person or title. Reply with only that name or title.`

// NormalizeAnswer canonicalizes a final answer: surrounding whitespace is
// removed and letters are lowercased. An answer that reads as a single
// integral number once commas and spaces are dropped becomes its integer
// form, so "1,000" and "1000.0" both give "1000".
func NormalizeAnswer(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return s
	}

	digits := strings.NewReplacer(",", "", " ", "").Replace(s)
	n, err := strconv.ParseFloat(digits, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) || n != math.Trunc(n) {
		return s
	}
	if n == 0 {
		return "0"
	}
	return strconv.FormatFloat(n, 'f', 0, 64)
}

// extractJSONObject returns the first balanced top-level JSON object in text.
// Models often wrap JSON in prose or code fences; braces inside string
// literals do not count toward the balance.
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.NewDomainError("research.extractJSONObject", domain.ErrNoJSONObject, "empty output")
	}
	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text, nil
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", domain.NewDomainError("research.extractJSONObject", domain.ErrNoJSONObject, "no opening brace")
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", domain.NewDomainError("research.extractJSONObject", domain.ErrNoJSONObject, "unbalanced braces")
}
