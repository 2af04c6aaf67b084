package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
	"skillagent/internal/usecase"
)

const refineSystemPrompt = `You write better web search queries for a research agent.
Use only the listed languages, at most 3 queries per language, and do not guess the answer.
Reply with one JSON object and no markdown: {"queries": {"<lang>": ["query", "query"]}}`

const verifySystemPrompt = `You check candidate answers for a research agent against collected search evidence.
Pick a best_candidate only when the evidence URLs and snippets support it. Do not guess: when the evidence is weak, leave best_candidate empty.
Reply with one JSON object and no markdown:
{
  "language_justification": "<short>",
  "constraint_log": [{"constraint": "...", "status": "pass|fail|unknown", "evidence_urls": ["..."], "notes": "<short>"}],
  "candidates": [{"value": "...", "value_language": "...", "confidence": 0.0, "supporting_urls": ["..."], "violations": ["..."]}],
  "best_candidate": "<value>",
  "best_candidate_language": "<lang>"
}`

const solveSystemPromptFormat = `You give the final answer of a research agent. Output the answer text only.
Rules:
- Answer in the language of the question (%s).
- Rely only on the evidence snippets and URLs provided.
- When unsure, choose the candidate the evidence supports most strongly.
- Output one short phrase with no explanation.`

// Evidence is one search result kept as support for an answer.
type Evidence struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Searcher runs one web search in the given language.
type Searcher interface {
	Search(ctx context.Context, query, language string, count int) ([]Evidence, error)
}

// Options tunes a Solver. Zero fields take the defaults.
type Options struct {
	Model              string
	MaxRounds          int // search rounds, default 3
	QueriesPerLanguage int // queries sent per language over all rounds, default 8
	MinEvidence        int // valid results in one round that end the search, default 4
	ResultsPerQuery    int // default 8
	RefineLimit        int // refined queries kept per language, default 3
	TraceDir           string
	Timeout            time.Duration // whole run, zero for none
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 3
	}
	if o.QueriesPerLanguage <= 0 {
		o.QueriesPerLanguage = 8
	}
	if o.MinEvidence <= 0 {
		o.MinEvidence = 4
	}
	if o.ResultsPerQuery <= 0 {
		o.ResultsPerQuery = 8
	}
	if o.RefineLimit <= 0 {
		o.RefineLimit = 3
	}
	return o
}

// Result is a finished research run.
type Result struct {
	Answer  string
	TraceID string
	Trace   *Trace
}

// Solver answers a question in four stages: plan, search, verify, solve.
type Solver struct {
	llm    domain.LLMProvider
	search Searcher
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// NewSolver creates a Solver. A nil logger discards output.
func NewSolver(llm domain.LLMProvider, search Searcher, logger *slog.Logger, opts Options) *Solver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Solver{
		llm:    llm,
		search: search,
		opts:   opts.withDefaults(),
		logger: logger,
		now:    time.Now,
	}
}

// Solve researches question and returns its normalized answer with the
// trace of every stage. Failures of the planning, refining and verifying
// stages degrade to heuristics; only a failed final answer or a cancelled
// context is returned as an error.
func (s *Solver) Solve(ctx context.Context, question string) (*Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, domain.NewDomainError("Solver.Solve", domain.ErrEmptyQuestion, "")
	}

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	ctx, span := tracer.StartSpan(ctx, "research.solve")
	defer span.End()

	tr := &Trace{
		ID:        usecase.NewRunID(),
		CreatedAt: s.now().UTC(),
		Model:     s.opts.Model,
		Question:  question,
	}
	logger := s.logger.With("trace_id", tr.ID)

	tr.Plan = s.plan(ctx, question, logger)
	logger.Info("research plan",
		"source", tr.Plan.Source,
		"languages", tr.Plan.Languages(),
		"answer_type", tr.Plan.AnswerType,
	)

	if err := s.searchRounds(ctx, question, tr, logger); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}

	tr.Verdict = s.verify(ctx, question, tr, logger)

	if best := strings.TrimSpace(tr.Verdict.BestCandidate); best != "" {
		tr.Solve = SolveStep{Mode: SolveFromCandidate, RawOutput: best}
	} else {
		text, err := s.solve(ctx, question, tr)
		if err != nil {
			err = domain.WrapOp("research solve", err)
			tracer.RecordError(span, err)
			return nil, err
		}
		tr.Solve = SolveStep{Mode: SolveFromModel, RawOutput: text}
	}
	tr.Solve.NormalizedAnswer = NormalizeAnswer(tr.Solve.RawOutput)
	tr.Answer = tr.Solve.NormalizedAnswer
	tr.FinishedAt = s.now().UTC()

	if s.opts.TraceDir != "" {
		if path, err := tr.Save(s.opts.TraceDir); err != nil {
			logger.Warn("research trace not saved", "error", err)
		} else {
			logger.Debug("research trace saved", "path", path)
		}
	}

	span.SetAttributes(
		tracer.StringAttr("research.mode", tr.Solve.Mode),
		tracer.IntAttr("research.rounds", len(tr.Rounds)),
	)
	tracer.SetOK(span)
	logger.Info("research answered", "mode", tr.Solve.Mode, "rounds", len(tr.Rounds))

	return &Result{Answer: tr.Answer, TraceID: tr.ID, Trace: tr}, nil
}

func (s *Solver) plan(ctx context.Context, question string, logger *slog.Logger) Plan {
	out, err := s.complete(ctx, planSystemPrompt, question)
	if err == nil {
		var p Plan
		if p, err = parsePlan(out, question); err == nil {
			return p
		}
	}
	logger.Warn("research plan fell back to heuristics", "error", err)
	return heuristicPlan(question)
}

// searchRounds runs up to MaxRounds search rounds. A round that yields at
// least MinEvidence valid results ends the search early; otherwise the
// model refines the queries for the next round.
func (s *Solver) searchRounds(ctx context.Context, question string, tr *Trace, logger *slog.Logger) error {
	langs := tr.Plan.Languages()
	tr.Evidence = make(map[string][]Evidence, len(langs))
	for _, l := range langs {
		tr.Evidence[l] = []Evidence{}
	}

	seen := make(map[string]bool)
	perLanguage := make(map[string]int)
	queries := initialQueries(question, tr.Plan)

	for round := 1; round <= s.opts.MaxRounds; round++ {
		rec := SearchRound{Round: round}
		valid := 0

		for _, lq := range queries {
			lang := normalizeLanguage(lq.Language)
			if _, ok := tr.Evidence[lang]; !ok {
				continue
			}
			for _, q := range lq.Queries {
				q = strings.TrimSpace(q)
				key := lang + "::" + q
				if q == "" || seen[key] || perLanguage[lang] >= s.opts.QueriesPerLanguage {
					continue
				}
				seen[key] = true
				perLanguage[lang]++

				run, kept, err := s.searchOnce(ctx, q, lang)
				if err != nil {
					return err
				}
				if run.Error != "" {
					logger.Warn("research search failed", "query", q, "language", lang, "error", run.Error)
				}
				valid += len(kept)
				tr.Evidence[lang] = append(tr.Evidence[lang], kept...)
				rec.Runs = append(rec.Runs, run)
			}
		}

		tr.Rounds = append(tr.Rounds, rec)
		logger.Debug("research round", "round", round, "queries", len(rec.Runs), "valid", valid)

		if valid >= s.opts.MinEvidence || round == s.opts.MaxRounds {
			break
		}
		if queries = s.refine(ctx, question, tr, logger); len(queries) == 0 {
			break
		}
	}
	return nil
}

// searchOnce runs one query. Search failures are recorded on the run; only
// context cancellation is returned.
func (s *Solver) searchOnce(ctx context.Context, query, lang string) (SearchRun, []Evidence, error) {
	if err := ctx.Err(); err != nil {
		return SearchRun{}, nil, err
	}
	run := SearchRun{Language: lang, Query: query}

	results, err := s.search.Search(ctx, query, lang, s.opts.ResultsPerQuery)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return SearchRun{}, nil, ctxErr
		}
		run.Error = err.Error()
		return run, nil, nil
	}

	kept := validEvidence(results)
	run.Results = len(results)
	run.Valid = len(kept)
	return run, kept, nil
}

// validEvidence drops results that cannot be cited.
func validEvidence(results []Evidence) []Evidence {
	kept := make([]Evidence, 0, len(results))
	for _, r := range results {
		if strings.TrimSpace(r.URL) == "" {
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

type refineRequest struct {
	Question  string              `json:"question"`
	KeyTerms  []string            `json:"key_terms"`
	Snippets  map[string][]string `json:"evidence_snippets"`
	Languages []string            `json:"languages"`
}

// refine asks the model for the next round's queries. Any failure ends the
// search with the evidence gathered so far.
func (s *Solver) refine(ctx context.Context, question string, tr *Trace, logger *slog.Logger) []languageQueries {
	langs := tr.Plan.Languages()
	req := refineRequest{
		Question:  question,
		KeyTerms:  tr.Plan.KeyTerms,
		Snippets:  make(map[string][]string, len(tr.Evidence)),
		Languages: sortedCopy(langs),
	}
	for lang, ev := range tr.Evidence {
		snippets := []string{}
		for i := 0; i < len(ev) && i < 5; i++ {
			snippets = append(snippets, ev[i].Snippet)
		}
		req.Snippets[lang] = snippets
	}

	var resp struct {
		Queries map[string]json.RawMessage `json:"queries"`
	}
	if err := s.completeJSON(ctx, refineSystemPrompt, req, &resp); err != nil {
		logger.Warn("research refine failed", "error", err)
		return nil
	}

	var out []languageQueries
	for _, lang := range langs {
		qs := stringList(resp.Queries[lang])
		if len(qs) > s.opts.RefineLimit {
			qs = qs[:s.opts.RefineLimit]
		}
		if len(qs) > 0 {
			out = append(out, languageQueries{Language: lang, Queries: qs})
		}
	}
	return out
}

type evidenceRequest struct {
	Question string                `json:"question"`
	Plan     Plan                  `json:"plan"`
	Evidence map[string][]Evidence `json:"evidence_by_language"`
}

// verify picks the best supported candidate. With no evidence at all the
// model is not consulted. A failed verification leaves the choice to the
// solve stage.
func (s *Solver) verify(ctx context.Context, question string, tr *Trace, logger *slog.Logger) Verdict {
	if !hasEvidence(tr.Evidence) {
		return Verdict{
			Justification:         "no_evidence",
			BestCandidateLanguage: questionLanguage(question),
		}
	}

	var v Verdict
	req := evidenceRequest{Question: question, Plan: tr.Plan, Evidence: tr.Evidence}
	if err := s.completeJSON(ctx, verifySystemPrompt, req, &v); err != nil {
		logger.Warn("research verify failed", "error", err)
		return Verdict{Error: err.Error()}
	}
	return v
}

// solve asks the model for an answer from the top evidence of each language.
func (s *Solver) solve(ctx context.Context, question string, tr *Trace) (string, error) {
	top := make(map[string][]Evidence, len(tr.Evidence))
	for lang, ev := range tr.Evidence {
		n := min(len(ev), 8)
		picked := make([]Evidence, 0, n)
		for _, e := range ev[:n] {
			picked = append(picked, Evidence{URL: e.URL, Snippet: e.Snippet})
		}
		top[lang] = picked
	}

	payload, err := json.Marshal(evidenceRequest{Question: question, Plan: tr.Plan, Evidence: top})
	if err != nil {
		return "", err
	}
	system := fmt.Sprintf(solveSystemPromptFormat, questionLanguage(question))
	return s.complete(ctx, system, string(payload))
}

// completeJSON sends payload as JSON and decodes the object in the reply.
func (s *Solver) completeJSON(ctx context.Context, system string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	text, err := s.complete(ctx, system, string(body))
	if err != nil {
		return err
	}
	raw, err := extractJSONObject(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// complete runs one tool-free model turn and returns its trimmed text.
func (s *Solver) complete(ctx context.Context, system, user string) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "research.complete", trace.WithAttributes(
		tracer.StringAttr("model", s.opts.Model),
	))
	defer span.End()

	req := domain.ChatRequest{
		Model: s.opts.Model,
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: system},
			{Role: domain.RoleUser, Content: user},
		},
		Stream: true,
	}
	ch, err := s.llm.ChatStream(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	turn, err := usecase.StreamReducer{}.Reduce(ctx, ch, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return "", err
	}
	tracer.SetOK(span)
	return strings.TrimSpace(turn.Text), nil
}

func hasEvidence(byLang map[string][]Evidence) bool {
	for _, ev := range byLang {
		if len(ev) > 0 {
			return true
		}
	}
	return false
}
