package research

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ternarybob/messor/internal/models"
)

const (
	// maxFindingChars caps the text kept per finding so state stays small
	// enough to persist after every step.
	maxFindingChars = 4000

	// maxDigestChars caps the findings digest handed to the synthesis
	// prompt.
	maxDigestChars = 48000

	maxQueriesPerRound = 3
)

// searchPlan is the model's answer to "what should we search next".
type searchPlan struct {
	Queries   []string `json:"queries"`
	Rationale string   `json:"rationale"`
}

var searchPlanSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"queries": map[string]interface{}{
			"type":        "array",
			"description": "Distinct web search queries, most promising first",
			"items":       map[string]interface{}{"type": "string"},
		},
		"rationale": map[string]interface{}{
			"type":        "string",
			"description": "One sentence on what these queries should uncover",
		},
	},
	"required": []string{"queries"},
}

// gapAnalysis is the model's verdict on a finished round: what is still
// missing and whether another round is worth the budget.
type gapAnalysis struct {
	Summary         string   `json:"summary"`
	Gaps            []string `json:"gaps"`
	NextSearchTopic string   `json:"nextSearchTopic"`
	ShouldContinue  bool     `json:"shouldContinue"`
}

var gapAnalysisSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"summary": map[string]interface{}{
			"type":        "string",
			"description": "Two or three sentences on what the findings so far establish",
		},
		"gaps": map[string]interface{}{
			"type":        "array",
			"description": "Specific questions the findings do not yet answer",
			"items":       map[string]interface{}{"type": "string"},
		},
		"nextSearchTopic": map[string]interface{}{
			"type":        "string",
			"description": "The single most valuable topic to search next",
		},
		"shouldContinue": map[string]interface{}{
			"type":        "boolean",
			"description": "False when the findings already cover the query",
		},
	},
	"required": []string{"summary", "shouldContinue"},
}

// planQueries asks the model for the next round of search queries. Falls back
// to the bare topic when the model is unavailable or answers garbage, so a
// round always has at least one query to run.
func (s *Service) planQueries(ctx context.Context, state *models.ResearchState, topic string) []string {
	if s.llm == nil {
		return []string{topic}
	}

	var plan searchPlan
	prompt := fmt.Sprintf(
		"You are helping research the query: %q\n\n"+
			"The current focus is: %q\n\n"+
			"%s"+
			"Generate up to %d distinct web search queries that would surface new information on the current focus. "+
			"Avoid queries that would return pages already covered.",
		state.Query, topic, summariesBlock(state), maxQueriesPerRound)

	if err := s.llm.CompleteJSON(ctx, prompt, searchPlanSchema, &plan); err != nil {
		s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("query planning failed, searching the topic directly")
		return []string{topic}
	}

	queries := make([]string, 0, maxQueriesPerRound)
	for _, q := range plan.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == maxQueriesPerRound {
			break
		}
	}
	if len(queries) == 0 {
		return []string{topic}
	}
	if plan.Rationale != "" {
		s.activity(ctx, state, models.ActivityThought, models.ActivityStatusComplete, plan.Rationale)
	}
	return queries
}

// analyzeGaps asks the model whether the findings so far answer the query and
// where to search next.
func (s *Service) analyzeGaps(ctx context.Context, state *models.ResearchState, topic string) (*gapAnalysis, error) {
	if s.llm == nil {
		return nil, fmt.Errorf("no llm provider configured")
	}

	prompt := fmt.Sprintf(
		"You are evaluating research progress on the query: %q\n\n"+
			"The round just finished searched: %q\n\n"+
			"Findings so far:\n%s\n\n"+
			"Budget remaining: %d more pages, %d more rounds.\n\n"+
			"Summarize what the findings establish, list the gaps, and decide whether another round is worthwhile.",
		state.Query, topic, findingsDigest(state, maxDigestChars),
		state.RemainingURLBudget(), state.MaxDepth-state.CurrentDepth)

	var ga gapAnalysis
	if err := s.llm.CompleteJSON(ctx, prompt, gapAnalysisSchema, &ga); err != nil {
		return nil, err
	}
	return &ga, nil
}

// synthesize produces the final analysis from everything collected. Never
// returns empty: when the model is unavailable the raw findings digest
// becomes the report, so a run that scraped content always delivers it.
func (s *Service) synthesize(ctx context.Context, state *models.ResearchState, systemPrompt string) string {
	digest := findingsDigest(state, maxDigestChars)
	if s.llm == nil {
		return digest
	}

	if systemPrompt == "" {
		systemPrompt = "You are a research analyst. Write a thorough, well-structured markdown report. " +
			"Cite source URLs inline. Say plainly when the findings are inconclusive."
	}
	prompt := fmt.Sprintf(
		"Research query: %q\n\n"+
			"%s"+
			"Findings:\n%s\n\n"+
			"Write the final report answering the query from these findings only.",
		state.Query, summariesBlock(state), digest)

	report, err := s.llm.CompleteWithSystem(ctx, systemPrompt, prompt)
	if err != nil || strings.TrimSpace(report) == "" {
		s.logger.Warn().Err(err).Str("research_id", state.ID).Msg("synthesis failed, returning findings digest")
		return digest
	}
	return report
}

// findingsDigest renders the findings as a markdown list of sourced excerpts,
// newest first so truncation drops the oldest material.
func findingsDigest(state *models.ResearchState, limit int) string {
	if len(state.Findings) == 0 {
		return "No usable content was found within the research budgets."
	}

	var b strings.Builder
	for i := len(state.Findings) - 1; i >= 0; i-- {
		f := state.Findings[i]
		entry := fmt.Sprintf("### Source: %s\n\n%s\n\n", f.Source, f.Text)
		if b.Len()+len(entry) > limit {
			break
		}
		b.WriteString(entry)
	}
	return strings.TrimRight(b.String(), "\n")
}

// summariesBlock renders prior round summaries for inclusion in a prompt, or
// nothing before the first analysis.
func summariesBlock(state *models.ResearchState) string {
	if len(state.Summaries) == 0 {
		return ""
	}
	return "What previous rounds established:\n- " + strings.Join(state.Summaries, "\n- ") + "\n\n"
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
