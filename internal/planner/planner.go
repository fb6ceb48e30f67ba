// Package planner decides what the user wants done this turn: one of the
// recognized task intents, carried out immediately, or a clarifying question
// when the request is too ambiguous to act on.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/helpers"
	"github.com/mohammad-safakhou/parley/internal/llm"
	"github.com/mohammad-safakhou/parley/internal/session"
	"github.com/mohammad-safakhou/parley/internal/telemetry"
)

// Recognized intents.
const (
	IntentSummarize      = "summarize"
	IntentSentiment      = "sentiment_analysis"
	IntentCodeExplain    = "code_explanation"
	IntentConversational = "conversational"
	IntentAudio          = "audio_transcribe_summarize"
	IntentYouTube        = "youtube_transcript"
	IntentExtractText    = "extract_text"
)

// AllIntents lists every dispatchable intent.
var AllIntents = []string{
	IntentSummarize, IntentSentiment, IntentCodeExplain, IntentConversational,
	IntentAudio, IntentYouTube, IntentExtractText,
}

// Plan is the planner's decision for one turn.
type Plan struct {
	Intent             string                 `json:"intent"`
	Confidence         float64                `json:"confidence"`
	Params             map[string]interface{} `json:"params,omitempty"`
	PossibleIntents    []string               `json:"possible_intents,omitempty"`
	NeedsClarification bool                   `json:"needs_clarification"`
	Question           string                 `json:"question,omitempty"`
	Reasoning          string                 `json:"reasoning,omitempty"`
}

// Input is everything the planner sees for one turn.
type Input struct {
	Message        string
	ContentType    string // extract.Type* value, "" when no content
	ContentPreview string // extracted text, already available
	RecentTurns    []session.Turn
	Clarifications int // questions already asked this session
}

// Planner classifies turns via the planning-profile LLM.
type Planner struct {
	provider  llm.Provider
	model     string
	limits    config.LimitsConfig
	telemetry *telemetry.Telemetry
	logger    *log.Logger
}

// New creates a planner using the given routing model.
func New(provider llm.Provider, model string, limits config.LimitsConfig, tel *telemetry.Telemetry) *Planner {
	return &Planner{
		provider:  provider,
		model:     model,
		limits:    limits,
		telemetry: tel,
		logger:    log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

// Plan decides the intent for one turn. Audio and YouTube inputs short-circuit
// to their dedicated intents without an LLM call: the input type already names
// the task, so the decision is deterministic and repeatable.
func (p *Planner) Plan(ctx context.Context, in Input) (Plan, error) {
	switch in.ContentType {
	case "audio":
		return Plan{Intent: IntentAudio, Confidence: 0.95, Reasoning: "audio input implies transcription"}, nil
	case "youtube":
		return Plan{Intent: IntentYouTube, Confidence: 0.95, Reasoning: "youtube link implies transcript retrieval"}, nil
	}

	start := time.Now()
	prompt := p.classificationPrompt(in)

	response, err := p.provider.Generate(ctx, prompt, p.model, map[string]interface{}{
		"temperature": 0.1,
		"max_tokens":  500,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("intent classification: %w", err)
	}
	if p.telemetry != nil {
		p.telemetry.ObserveLLMCall("planning", time.Since(start))
	}

	plan := p.parseResponse(response)
	return p.applyGate(plan, in), nil
}

// applyGate applies the confidence threshold, the clarification cap, and the
// question templating to a raw classification.
func (p *Planner) applyGate(plan Plan, in Input) Plan {
	threshold := p.limits.ConfidenceThreshold

	if plan.Confidence >= threshold {
		plan.NeedsClarification = false
		plan.Question = ""
		return plan
	}

	// Past the cap, asking again just loops; summarize is the least wrong
	// default for content-bearing requests.
	if in.Clarifications >= p.limits.MaxClarifications {
		p.logger.Printf("clarification cap reached (%d), defaulting to summarize", in.Clarifications)
		return Plan{
			Intent:     IntentSummarize,
			Confidence: 0.6,
			Reasoning:  "clarification limit reached, defaulting to summary",
		}
	}

	plan.NeedsClarification = true
	if plan.Question == "" {
		plan.Question = clarificationQuestion(plan.PossibleIntents)
	}
	return plan
}

// parseResponse decodes the classification JSON. Malformed output degrades to
// a zero-confidence conversational plan rather than an error, which the gate
// then turns into a clarification.
func (p *Planner) parseResponse(response string) Plan {
	var raw struct {
		Intent          string                 `json:"intent"`
		Confidence      float64                `json:"confidence"`
		Params          map[string]interface{} `json:"params"`
		PossibleIntents []string               `json:"possible_intents"`
		Question        string                 `json:"clarification_question"`
		Reasoning       string                 `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(llm.ExtractJSON(response)), &raw); err != nil {
		p.logger.Printf("unparseable classification, falling back: %v", err)
		return Plan{Intent: IntentConversational, Confidence: 0, Reasoning: "classifier output unparseable"}
	}
	if !validIntent(raw.Intent) {
		p.logger.Printf("classifier produced unknown intent %q, falling back", raw.Intent)
		return Plan{Intent: IntentConversational, Confidence: 0, Reasoning: "classifier produced unknown intent"}
	}
	return Plan{
		Intent:          raw.Intent,
		Confidence:      raw.Confidence,
		Params:          raw.Params,
		PossibleIntents: raw.PossibleIntents,
		Question:        raw.Question,
		Reasoning:       raw.Reasoning,
	}
}

func validIntent(intent string) bool {
	for _, i := range AllIntents {
		if i == intent {
			return true
		}
	}
	return false
}

// intentPhrases maps intents to the wording used in clarification questions.
var intentPhrases = map[string]string{
	IntentSummarize:      "a summary",
	IntentSentiment:      "sentiment analysis",
	IntentCodeExplain:    "a code explanation",
	IntentExtractText:    "the extracted text",
	IntentConversational: "a general answer",
	IntentAudio:          "an audio transcription",
	IntentYouTube:        "the video transcript",
}

// clarificationQuestion phrases a question from the candidate intents, e.g.
// "Would you like a summary or sentiment analysis?".
func clarificationQuestion(possible []string) string {
	phrases := make([]string, 0, len(possible))
	for _, intent := range possible {
		if ph, ok := intentPhrases[intent]; ok {
			phrases = append(phrases, ph)
		}
	}
	switch len(phrases) {
	case 0:
		return "Could you tell me more about what you'd like me to do with this?"
	case 1:
		return fmt.Sprintf("Would you like %s?", phrases[0])
	default:
		return fmt.Sprintf("Would you like %s or %s?",
			strings.Join(phrases[:len(phrases)-1], ", "), phrases[len(phrases)-1])
	}
}

// previewBudget bounds how much content the classification prompt sees.
// Classification only needs a taste of the content, so it gets a sixth of the
// execution budget.
func (p *Planner) previewBudget() int {
	if p.limits.ContentCharBudget <= 0 {
		return 2000
	}
	return p.limits.ContentCharBudget / 6
}

func (p *Planner) classificationPrompt(in Input) string {
	var b strings.Builder

	b.WriteString(`You classify a user request into exactly one intent.

INTENTS:
- summarize: condense provided content into its key points
- sentiment_analysis: judge the emotional tone of provided content
- code_explanation: explain what a piece of code does
- extract_text: the user wants the raw text pulled out of their file
- conversational: a general question or chat with no task over content

RULES:
- Respond with JSON only.
- confidence is your certainty in [0,1] that the chosen intent is what the user wants.
- Vague verbs like "analyze", "look at", "check" without a clear goal are ambiguous: keep confidence below 0.7 and list the plausible intents in possible_intents.
- If content is attached but the message names no task, that is ambiguous.

EXAMPLES:
Message: "summarize this article" -> {"intent": "summarize", "confidence": 0.95, "reasoning": "explicit ask"}
Message: "what's the mood of this review?" -> {"intent": "sentiment_analysis", "confidence": 0.9, "reasoning": "tone question"}
Message: "what does this function do?" -> {"intent": "code_explanation", "confidence": 0.9, "reasoning": "code question"}
Message: "analyze this" -> {"intent": "summarize", "confidence": 0.5, "possible_intents": ["summarize", "sentiment_analysis"], "reasoning": "analyze is ambiguous"}
Message: "hi there" -> {"intent": "conversational", "confidence": 0.95, "reasoning": "greeting"}

`)

	if len(in.RecentTurns) > 0 {
		b.WriteString("RECENT CONVERSATION:\n")
		for _, turn := range in.RecentTurns {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, turn.Content)
		}
		b.WriteString("\n")
	}

	if in.ContentPreview != "" {
		preview, _ := helpers.TruncateMiddle(in.ContentPreview, p.previewBudget())
		fmt.Fprintf(&b, "ATTACHED CONTENT (%s):\n%s\n\n", in.ContentType, preview)
	}

	fmt.Fprintf(&b, "MESSAGE: %s\n\nRespond with the JSON object only:\n", in.Message)
	b.WriteString(`{"intent": "...", "confidence": 0.0, "params": {}, "possible_intents": [], "clarification_question": "", "reasoning": "..."}`)
	return b.String()
}
