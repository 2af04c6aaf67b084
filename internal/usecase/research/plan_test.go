package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlan(t *testing.T) {
	out := "```json\n" + `{
  "primary_language": "EN-US",
  "secondary_languages": ["zh-CN", ""],
  "answer_type": "person_name",
  "key_constraints": ["published 1972"],
  "key_terms": ["Latin American Research Review", " prosopography "],
  "required_format": ""
}` + "\n```"

	p, err := parsePlan(out, "Who wrote the 1972 prosopography article? Answer with the name.")
	require.NoError(t, err)

	assert.Equal(t, PlanFromModel, p.Source)
	assert.Equal(t, "en", p.PrimaryLanguage)
	assert.Equal(t, []string{"zh"}, p.SecondaryLanguages)
	assert.Equal(t, AnswerPerson, p.AnswerType)
	assert.Equal(t, []string{"published 1972"}, p.KeyConstraints)
	assert.Equal(t, []string{"Latin American Research Review", "prosopography"}, p.KeyTerms)
	assert.Equal(t, "Return only the answer text, no explanation.", p.RequiredFormat, "empty format filled from the question")
}

func TestParsePlanMalformedFieldsFallBack(t *testing.T) {
	out := `{"key_terms": "not a list", "key_constraints": 7, "secondary_languages": null}`

	p, err := parsePlan(out, "哪一年建成？")
	require.NoError(t, err)

	assert.Equal(t, "zh", p.PrimaryLanguage)
	assert.Equal(t, AnswerYear, p.AnswerType)
	assert.Empty(t, p.KeyTerms)
	assert.NotNil(t, p.KeyTerms)
	assert.Empty(t, p.KeyConstraints)
	assert.Empty(t, p.SecondaryLanguages)
}

func TestParsePlanRejectsNonJSON(t *testing.T) {
	_, err := parsePlan("I think the answer is Paris.", "Where?")
	require.Error(t, err)

	_, err = parsePlan(`{"primary_language": 5}`, "Where?")
	require.Error(t, err)
}

func TestHeuristicPlan(t *testing.T) {
	p := heuristicPlan("这本书的作者是谁？")
	assert.Equal(t, PlanFromHeuristic, p.Source)
	assert.Equal(t, []string{"zh", "en"}, p.Languages())
	assert.Equal(t, AnswerPerson, p.AnswerType)
}

func TestPlanLanguagesDeduplicates(t *testing.T) {
	p := Plan{PrimaryLanguage: "en", SecondaryLanguages: []string{"zh", "en", "zh", "ja"}}
	assert.Equal(t, []string{"en", "zh", "ja"}, p.Languages())
}

func TestInitialQueries(t *testing.T) {
	q := "Who founded RepRap?"

	t.Run("key terms with suffix", func(t *testing.T) {
		p := Plan{PrimaryLanguage: "en", SecondaryLanguages: []string{"zh"}, AnswerType: AnswerOrganization, KeyTerms: []string{"RepRap", "founder"}}
		got := initialQueries(q, p)
		require.Len(t, got, 2)
		assert.Equal(t, languageQueries{Language: "en", Queries: []string{q, "RepRap founder", "RepRap founder official name"}}, got[0])
		assert.Equal(t, languageQueries{Language: "zh", Queries: []string{q, "RepRap founder", "RepRap founder 全称"}}, got[1])
	})

	t.Run("no key terms", func(t *testing.T) {
		p := Plan{PrimaryLanguage: "en", AnswerType: AnswerPerson}
		got := initialQueries(q, p)
		require.Len(t, got, 1)
		assert.Equal(t, []string{q, q + " biography"}, got[0].Queries)
	})

	t.Run("language without a suffix", func(t *testing.T) {
		p := Plan{PrimaryLanguage: "fr", AnswerType: AnswerPerson, KeyTerms: []string{q}}
		got := initialQueries(q, p)
		assert.Equal(t, []string{q}, got[0].Queries, "duplicate query removed and fr has no suffix")
	})
}
