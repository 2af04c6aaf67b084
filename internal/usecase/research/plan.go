package research

import (
	"encoding/json"
	"slices"
	"strings"
)

// Plan sources recorded in traces.
const (
	PlanFromModel     = "model"
	PlanFromHeuristic = "heuristic"
)

const planSystemPrompt = `You plan searches for a research agent. You have no web access; do not try to answer the question.
Identify what is being asked, then extract the key entities, time bounds, format requirements and the type of answer.
Reply with one JSON object and no markdown:
{
  "primary_language": "<iso code>",
  "secondary_languages": ["<iso code>"],
  "answer_type": "person_name|organization|number|year|title|device|place|text",
  "key_constraints": ["..."],
  "key_terms": ["..."],
  "required_format": "<format hints from the question, if any>"
}`

// Plan describes how a question should be researched.
type Plan struct {
	PrimaryLanguage    string   `json:"primary_language"`
	SecondaryLanguages []string `json:"secondary_languages"`
	AnswerType         string   `json:"answer_type"`
	KeyConstraints     []string `json:"key_constraints"`
	KeyTerms           []string `json:"key_terms"`
	RequiredFormat     string   `json:"required_format"`
	Source             string   `json:"source"`
}

// Languages returns the primary language followed by the distinct
// secondary ones.
func (p Plan) Languages() []string {
	langs := []string{p.PrimaryLanguage}
	for _, l := range p.SecondaryLanguages {
		if !slices.Contains(langs, l) {
			langs = append(langs, l)
		}
	}
	return langs
}

// heuristicPlan builds a plan from the question text alone.
func heuristicPlan(question string) Plan {
	return Plan{
		PrimaryLanguage:    questionLanguage(question),
		SecondaryLanguages: secondaryLanguages(question),
		AnswerType:         inferAnswerType(question),
		KeyConstraints:     []string{},
		KeyTerms:           []string{},
		RequiredFormat:     formatHint(question),
		Source:             PlanFromHeuristic,
	}
}

// planWire is the model's plan before cleanup. List fields stay raw so one
// malformed field does not discard the rest of the plan.
type planWire struct {
	PrimaryLanguage    string          `json:"primary_language"`
	SecondaryLanguages json.RawMessage `json:"secondary_languages"`
	AnswerType         string          `json:"answer_type"`
	KeyConstraints     json.RawMessage `json:"key_constraints"`
	KeyTerms           json.RawMessage `json:"key_terms"`
	RequiredFormat     string          `json:"required_format"`
}

// parsePlan decodes a model plan and fills gaps from the heuristic plan.
func parsePlan(output, question string) (Plan, error) {
	raw, err := extractJSONObject(output)
	if err != nil {
		return Plan{}, err
	}
	var w planWire
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return Plan{}, err
	}

	fallback := heuristicPlan(question)
	p := Plan{
		PrimaryLanguage: fallback.PrimaryLanguage,
		AnswerType:      strings.TrimSpace(w.AnswerType),
		KeyConstraints:  stringList(w.KeyConstraints),
		KeyTerms:        stringList(w.KeyTerms),
		RequiredFormat:  strings.TrimSpace(w.RequiredFormat),
		Source:          PlanFromModel,
	}
	if w.PrimaryLanguage != "" {
		p.PrimaryLanguage = normalizeLanguage(w.PrimaryLanguage)
	}
	for _, l := range stringList(w.SecondaryLanguages) {
		p.SecondaryLanguages = append(p.SecondaryLanguages, normalizeLanguage(l))
	}
	if p.AnswerType == "" {
		p.AnswerType = fallback.AnswerType
	}
	if p.RequiredFormat == "" {
		p.RequiredFormat = fallback.RequiredFormat
	}
	return p, nil
}

// stringList decodes a JSON array of strings, dropping blanks. Anything
// else yields an empty list.
func stringList(raw json.RawMessage) []string {
	var items []string
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// languageQueries is the ordered query list for one search language.
type languageQueries struct {
	Language string
	Queries  []string
}

// initialQueries seeds the first search round: the question itself, then
// the key terms, then the key terms narrowed by the answer type.
func initialQueries(question string, p Plan) []languageQueries {
	var out []languageQueries
	for _, lang := range p.Languages() {
		suffix := querySuffixes[p.AnswerType][lang]
		queries := []string{question}
		switch {
		case len(p.KeyTerms) > 0:
			terms := strings.Join(p.KeyTerms, " ")
			queries = append(queries, terms)
			if suffix != "" {
				queries = append(queries, terms+" "+suffix)
			}
		case suffix != "":
			queries = append(queries, question+" "+suffix)
		}
		out = append(out, languageQueries{Language: lang, Queries: distinctNonBlank(queries)})
	}
	return out
}

func distinctNonBlank(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if strings.TrimSpace(s) != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
