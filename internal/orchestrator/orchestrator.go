// Package orchestrator runs the per-turn state machine: process the input,
// plan the intent, then either ask a clarifying question or execute the task,
// and shape the response envelope. Session state commits only once the turn's
// outcome is known, except extracted content, which persists as soon as it is
// available so a clarification round-trip never loses an upload.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/executor"
	"github.com/mohammad-safakhou/parley/internal/extract"
	"github.com/mohammad-safakhou/parley/internal/planner"
	"github.com/mohammad-safakhou/parley/internal/session"
	"github.com/mohammad-safakhou/parley/internal/telemetry"
	"github.com/mohammad-safakhou/parley/internal/trace"
)

// recentTurnWindow bounds how much conversation history reaches the prompts.
const recentTurnWindow = 5

// Request is one inbound turn, already validated by the transport layer.
type Request struct {
	SessionID string
	Message   string
	FilePath  string // temp path of the upload, empty when none
	Filename  string // original upload name
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store     session.Store
	planner   *planner.Planner
	executor  *executor.Executor
	extractor *extract.Extractor
	telemetry *telemetry.Telemetry
	limits    config.LimitsConfig
	logger    *log.Logger
}

// New assembles an orchestrator from its stages.
func New(store session.Store, p *planner.Planner, e *executor.Executor, ex *extract.Extractor, tel *telemetry.Telemetry, limits config.LimitsConfig) *Orchestrator {
	return &Orchestrator{
		store:     store,
		planner:   p,
		executor:  e,
		extractor: ex,
		telemetry: tel,
		limits:    limits,
		logger:    log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// ProcessTurn handles one turn end-to-end and always returns an envelope,
// degrading to an error envelope (with trace) when a stage fails.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req Request) map[string]interface{} {
	tr := trace.New("input_processing")

	// The transport validates this; guard anyway so the envelope contract
	// holds for direct callers.
	if req.Message == "" && req.FilePath == "" && !o.hasStoredContent(ctx, req.SessionID) {
		tr.Add("validation_failed")
		return o.errorEnvelope(req.SessionID, publicError(extract.ErrNoInput), tr)
	}

	// Stage 1: resolve the content this turn operates on.
	content, err := o.resolveContent(ctx, req, tr)
	if err != nil {
		tr.Addf("extraction_failed", "%v", err)
		o.telemetry.RecordRequest("error")
		return o.errorEnvelope(req.SessionID, publicError(err), tr)
	}

	// Persist new content immediately: a clarification answer must find it.
	sessionID := req.SessionID
	if content != nil && content.Tier != "stored" {
		sess, err := o.store.Upsert(ctx, sessionID, func(s *session.Session) {
			s.Extracted = toExtracted(content)
		})
		if err != nil {
			tr.Add("session_store_failed")
			o.telemetry.RecordRequest("error")
			return o.errorEnvelope(sessionID, "internal error", tr)
		}
		sessionID = sess.ID
		if o.telemetry != nil {
			o.telemetry.RecordExtractionTier(content.Type, content.Tier)
		}
	}

	// Stage 2: plan.
	tr.Add("planning")
	var recent []session.Turn
	var clarifications int
	if sess, err := o.store.Get(ctx, sessionID); err == nil {
		recent = sess.RecentTurns(recentTurnWindow)
		clarifications = sess.Clarifications
	}

	plannerInput := planner.Input{
		Message:        req.Message,
		RecentTurns:    recent,
		Clarifications: clarifications,
	}
	if content != nil {
		plannerInput.ContentType = content.Type
		plannerInput.ContentPreview = content.Text
	}

	plan, err := o.planner.Plan(ctx, plannerInput)
	if err != nil {
		tr.Addf("planning_failed", "%v", err)
		o.telemetry.RecordRequest("error")
		return o.errorEnvelope(sessionID, "the request could not be processed", tr)
	}
	tr.Addf("planned", "intent=%s confidence=%.2f", plan.Intent, plan.Confidence)

	// Stage 3a: clarification short-circuit.
	if plan.NeedsClarification {
		tr.Add("clarification")
		sess, err := o.store.Upsert(ctx, sessionID, func(s *session.Session) {
			s.AddTurn("user", req.Message)
			s.AddTurn("assistant", plan.Question)
			s.Clarifications++
			s.LastIntent = plan.Intent
			s.LastConfidence = plan.Confidence
		})
		if err != nil {
			tr.Add("session_store_failed")
			return o.errorEnvelope(sessionID, "internal error", tr)
		}
		o.telemetry.RecordRequest("clarification")
		o.telemetry.RecordClarification()
		tr.Add("formatting")
		return map[string]interface{}{
			"status":     "clarification_needed",
			"question":   plan.Question,
			"session_id": sess.ID,
			"trace":      tr.Strings(),
		}
	}

	// Stage 3b: execute.
	tr.Addf("execution", "intent=%s", plan.Intent)
	execInput := executor.Input{
		Message:     req.Message,
		RecentTurns: recent,
	}
	if content != nil {
		execInput.Content = toExtracted(content)
	}

	payload, err := o.executor.Execute(ctx, plan, execInput)
	if err != nil {
		tr.Addf("execution_failed", "%v", err)
		o.telemetry.RecordRequest("error")
		return o.errorEnvelope(sessionID, "the request could not be processed", tr)
	}

	// Outcome known: commit the turn.
	sess, err := o.store.Upsert(ctx, sessionID, func(s *session.Session) {
		s.AddTurn("user", req.Message)
		s.AddTurn("assistant", fmt.Sprintf("[%s result]", plan.Intent))
		s.Clarifications = 0
		s.LastIntent = plan.Intent
		s.LastConfidence = plan.Confidence
	})
	if err != nil {
		tr.Add("session_store_failed")
		return o.errorEnvelope(sessionID, "internal error", tr)
	}

	o.telemetry.RecordRequest("executed")
	o.telemetry.RecordIntent(plan.Intent)

	tr.Add("formatting")
	envelope := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["session_id"] = sess.ID
	envelope["trace"] = tr.Strings()
	return envelope
}

// resolveContent figures out what content this turn operates on: a fresh
// upload, a YouTube link, or content stored on the session from an earlier
// turn. Returns nil when the turn is message-only with nothing stored.
func (o *Orchestrator) resolveContent(ctx context.Context, req Request, tr *trace.Trace) (*extract.Result, error) {
	switch {
	case req.FilePath != "":
		tr.Addf("extracting", "file=%s", req.Filename)
		res, err := o.extractor.ExtractFile(ctx, req.FilePath, req.Filename)
		if err != nil {
			return nil, err
		}
		tr.Addf("extracted", "type=%s tier=%s", res.Type, res.Tier)
		return res, nil

	case extract.IsYouTubeURL(req.Message):
		tr.Add("extracting_youtube")
		res, err := o.extractor.ExtractYouTube(ctx, req.Message)
		if err != nil {
			return nil, err
		}
		tr.Addf("extracted", "type=youtube tier=%s", res.Tier)
		return res, nil

	default:
		sess, err := o.store.Get(ctx, req.SessionID)
		if err != nil || sess.Extracted == nil {
			// Absent or expired sessions plan without stored content.
			return nil, nil
		}
		tr.Add("using_stored_content")
		return &extract.Result{
			Text:       sess.Extracted.Text,
			Type:       sess.Extracted.Type,
			Confidence: sess.Extracted.Confidence,
			Pages:      sess.Extracted.Pages,
			Duration:   sess.Extracted.Duration,
			Language:   sess.Extracted.Language,
			Source:     sess.Extracted.Source,
			Tier:       "stored",
		}, nil
	}
}

func (o *Orchestrator) hasStoredContent(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	sess, err := o.store.Get(ctx, sessionID)
	return err == nil && sess.Extracted != nil
}

func (o *Orchestrator) errorEnvelope(sessionID, msg string, tr *trace.Trace) map[string]interface{} {
	env := map[string]interface{}{
		"error": msg,
		"trace": tr.Strings(),
	}
	if sessionID != "" {
		env["session_id"] = sessionID
	}
	return env
}

// publicError maps internal failures to caller-safe wording.
func publicError(err error) string {
	switch {
	case errors.Is(err, extract.ErrNoInput):
		return "no input provided"
	case errors.Is(err, extract.ErrAudioTooLarge):
		return "audio file exceeds the size limit"
	case errors.Is(err, extract.ErrFileTooLarge):
		return "file exceeds the size limit"
	case errors.Is(err, extract.ErrUnsupportedType):
		return "unsupported file type"
	case errors.Is(err, extract.ErrExtractionFailed):
		return "content could not be extracted"
	default:
		return "the request could not be processed"
	}
}

func toExtracted(res *extract.Result) *session.ExtractedContent {
	return &session.ExtractedContent{
		Text:       res.Text,
		Type:       res.Type,
		Confidence: res.Confidence,
		Pages:      res.Pages,
		Duration:   res.Duration,
		Language:   res.Language,
		Source:     res.Source,
	}
}
