// Package executor carries out a planned intent: each handler builds a
// deterministic prompt, makes one LLM call on the execution profile, and
// parses the reply into that task's payload schema. Parse failures degrade to
// a payload that wraps the raw model text under the task's primary field, so
// the caller always receives a schema-shaped response.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/extract"
	"github.com/mohammad-safakhou/parley/internal/helpers"
	"github.com/mohammad-safakhou/parley/internal/llm"
	"github.com/mohammad-safakhou/parley/internal/planner"
	"github.com/mohammad-safakhou/parley/internal/session"
	"github.com/mohammad-safakhou/parley/internal/telemetry"
)

// Input is what a handler works on: the user's message plus any content
// attached to or stored on the session.
type Input struct {
	Message     string
	Content     *session.ExtractedContent
	RecentTurns []session.Turn
}

// Executor dispatches plans to task handlers.
type Executor struct {
	provider  llm.Provider
	model     string
	limits    config.LimitsConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New creates an executor using the given routing model.
func New(provider llm.Provider, model string, limits config.LimitsConfig, tel *telemetry.Telemetry) *Executor {
	return &Executor{
		provider:  provider,
		model:     model,
		limits:    limits,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute runs the handler for the plan's intent and returns the task payload.
// The returned map's keys are the task's external contract.
func (e *Executor) Execute(ctx context.Context, plan planner.Plan, in Input) (map[string]interface{}, error) {
	switch plan.Intent {
	case planner.IntentSummarize:
		return e.summarize(ctx, in)
	case planner.IntentSentiment:
		return e.sentiment(ctx, in)
	case planner.IntentCodeExplain:
		return e.codeExplanation(ctx, in)
	case planner.IntentConversational:
		return e.conversational(ctx, in)
	case planner.IntentAudio:
		return e.audioSummarize(ctx, in)
	case planner.IntentYouTube:
		return e.youtubeTranscript(ctx, in)
	case planner.IntentExtractText:
		return e.extractText(in)
	default:
		return nil, fmt.Errorf("no handler for intent %q", plan.Intent)
	}
}

// contentText returns the text a handler should operate on, truncated to the
// char budget, with a note appended when the middle was dropped.
func (e *Executor) contentText(in Input) string {
	text := in.Message
	if in.Content != nil && in.Content.Text != "" {
		text = in.Content.Text
	}
	truncated, wasTruncated := helpers.TruncateMiddle(text, e.limits.ContentCharBudget)
	if wasTruncated {
		truncated += "\n(Note: the middle of this content was omitted for length.)"
	}
	return truncated
}

// generate makes the single LLM call for a handler and records its latency.
func (e *Executor) generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := e.provider.Generate(ctx, prompt, e.model, map[string]interface{}{
		"temperature": 0.3,
		"max_tokens":  1500,
	})
	if err != nil {
		return "", fmt.Errorf("execution call: %w", err)
	}
	if e.telemetry != nil {
		e.telemetry.ObserveLLMCall("execution", time.Since(start))
	}
	return out, nil
}

type summaryPayload struct {
	OneLine      string   `json:"one_line"`
	ThreeBullets []string `json:"three_bullets"`
	FiveSentence string   `json:"five_sentence"`
}

func (e *Executor) summarizeContent(ctx context.Context, text string) (summaryPayload, error) {
	prompt := fmt.Sprintf(`Summarize the following content at three levels of detail.

CONTENT:
%s

Respond with JSON only:
{"one_line": "single sentence capturing the thesis", "three_bullets": ["point", "point", "point"], "five_sentence": "five sentence summary"}`, text)

	out, err := e.generate(ctx, prompt)
	if err != nil {
		return summaryPayload{}, err
	}

	var parsed summaryPayload
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &parsed); err != nil {
		e.logger.Printf("summarize output unparseable, degrading: %v", err)
		return summaryPayload{OneLine: strings.TrimSpace(out), ThreeBullets: []string{}}, nil
	}
	if parsed.ThreeBullets == nil {
		parsed.ThreeBullets = []string{}
	}
	return parsed, nil
}

func (e *Executor) summarize(ctx context.Context, in Input) (map[string]interface{}, error) {
	summary, err := e.summarizeContent(ctx, e.contentText(in))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"one_line":      summary.OneLine,
		"three_bullets": summary.ThreeBullets,
		"five_sentence": summary.FiveSentence,
	}, nil
}

func (e *Executor) sentiment(ctx context.Context, in Input) (map[string]interface{}, error) {
	prompt := fmt.Sprintf(`Judge the emotional tone of the following content.

CONTENT:
%s

Respond with JSON only:
{"label": "positive" | "neutral" | "negative", "confidence": 0.0, "justification": "one sentence"}`, e.contentText(in))

	out, err := e.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Label         string  `json:"label"`
		Confidence    float64 `json:"confidence"`
		Justification string  `json:"justification"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &parsed); err != nil || !validLabel(parsed.Label) {
		e.logger.Printf("sentiment output unparseable, degrading")
		return map[string]interface{}{
			"label":         "neutral",
			"confidence":    0.0,
			"justification": strings.TrimSpace(out),
		}, nil
	}
	return map[string]interface{}{
		"label":         parsed.Label,
		"confidence":    parsed.Confidence,
		"justification": parsed.Justification,
	}, nil
}

func validLabel(label string) bool {
	return label == "positive" || label == "neutral" || label == "negative"
}

func (e *Executor) codeExplanation(ctx context.Context, in Input) (map[string]interface{}, error) {
	prompt := fmt.Sprintf(`Explain the following code.

CODE:
%s

Respond with JSON only:
{"language": "detected language", "explanation": "what the code does", "bugs": ["potential issue", ...], "time_complexity": "big-O if applicable, otherwise n/a"}`, e.contentText(in))

	out, err := e.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Language       string   `json:"language"`
		Explanation    string   `json:"explanation"`
		Bugs           []string `json:"bugs"`
		TimeComplexity string   `json:"time_complexity"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &parsed); err != nil {
		e.logger.Printf("code explanation output unparseable, degrading: %v", err)
		return map[string]interface{}{
			"language":        "",
			"explanation":     strings.TrimSpace(out),
			"bugs":            []string{},
			"time_complexity": "",
		}, nil
	}
	if parsed.Bugs == nil {
		parsed.Bugs = []string{}
	}
	return map[string]interface{}{
		"language":        parsed.Language,
		"explanation":     parsed.Explanation,
		"bugs":            parsed.Bugs,
		"time_complexity": parsed.TimeComplexity,
	}, nil
}

// conversational answers directly; the model's text is the payload, so there
// is no schema to degrade from.
func (e *Executor) conversational(ctx context.Context, in Input) (map[string]interface{}, error) {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the user directly and concisely.\n\n")
	if len(in.RecentTurns) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, turn := range in.RecentTurns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}
	if in.Content != nil && in.Content.Text != "" {
		fmt.Fprintf(&b, "CONTEXT CONTENT:\n%s\n\n", e.contentText(in))
	}
	fmt.Fprintf(&b, "USER: %s", in.Message)

	out, err := e.generate(ctx, b.String())
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"response": strings.TrimSpace(out)}, nil
}

func (e *Executor) audioSummarize(ctx context.Context, in Input) (map[string]interface{}, error) {
	if in.Content == nil || in.Content.Text == "" {
		return nil, fmt.Errorf("no transcript available")
	}
	summary, err := e.summarizeContent(ctx, e.contentText(in))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"transcript": in.Content.Text,
		"summary": map[string]interface{}{
			"one_line":      summary.OneLine,
			"three_bullets": summary.ThreeBullets,
			"five_sentence": summary.FiveSentence,
		},
		"duration": in.Content.Duration,
		"language": in.Content.Language,
	}, nil
}

func (e *Executor) youtubeTranscript(ctx context.Context, in Input) (map[string]interface{}, error) {
	if in.Content == nil || in.Content.Text == "" {
		return nil, fmt.Errorf("no transcript available")
	}

	prompt := fmt.Sprintf(`Summarize this video transcript in two or three sentences.

TRANSCRIPT:
%s

Respond with the summary text only.`, e.contentText(in))

	summary, err := e.generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	transcript := in.Content.Text
	return map[string]interface{}{
		"url":        in.Content.Source,
		"video_id":   extract.VideoID(in.Content.Source),
		"transcript": transcript,
		"summary":    strings.TrimSpace(summary),
		"duration":   in.Content.Duration,
		"language":   in.Content.Language,
		"metadata": map[string]interface{}{
			"transcript_length": len(transcript),
			"word_count":        len(strings.Fields(transcript)),
		},
	}, nil
}

// extractText returns the already-extracted text as the payload; no LLM call.
func (e *Executor) extractText(in Input) (map[string]interface{}, error) {
	if in.Content == nil || in.Content.Text == "" {
		return nil, fmt.Errorf("no extracted content available")
	}
	return map[string]interface{}{
		"extracted_text": in.Content.Text,
		"confidence":     in.Content.Confidence,
		"source_type":    in.Content.Type,
	}, nil
}
