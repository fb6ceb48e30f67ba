// Package extract turns uploaded files and YouTube links into plain text via
// tiered external collaborators: each input type has an ordered list of
// services, later tiers run only when earlier ones fail or come back weak.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/mohammad-safakhou/parley/config"
	"github.com/mohammad-safakhou/parley/internal/llm"
)

// Error taxonomy for input handling. The server maps these to 400s before any
// session state is touched.
var (
	ErrNoInput          = errors.New("no input provided")
	ErrUnsupportedType  = errors.New("unsupported file type")
	ErrFileTooLarge     = errors.New("file exceeds size limit")
	ErrAudioTooLarge    = errors.New("audio file exceeds size limit")
	ErrExtractionFailed = errors.New("extraction failed")
)

// Result is the outcome of one extraction, whatever the input type.
type Result struct {
	Text       string
	Type       string
	Confidence float64
	Pages      int
	Duration   float64 // seconds, audio only
	Language   string
	Source     string // filename or URL
	Tier       string // which collaborator produced the text
}

// Extractor coordinates the collaborator services.
type Extractor struct {
	cfg      config.ExtractionConfig
	limits   config.LimitsConfig
	provider llm.Provider
	whisper  string
	client   *http.Client
	logger   *log.Logger

	// Test seam for the transcript host.
	transcriptBaseURL string
}

// New builds an Extractor. provider handles audio transcription; whisperModel
// names the routing entry to use for it.
func New(cfg config.ExtractionConfig, limits config.LimitsConfig, provider llm.Provider, whisperModel string) *Extractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Extractor{
		cfg:               cfg,
		limits:            limits,
		provider:          provider,
		whisper:           whisperModel,
		client:            &http.Client{Timeout: timeout},
		logger:            log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags),
		transcriptBaseURL: "https://www.youtube.com",
	}
}

// ValidateSize enforces the per-type upload ceilings. Audio violations get
// their own error so callers can phrase the rejection precisely.
func (e *Extractor) ValidateSize(fileType string, size int64) error {
	mb := func(n int) int64 { return int64(n) * 1024 * 1024 }
	switch fileType {
	case TypeImage:
		if e.limits.MaxImageMB > 0 && size > mb(e.limits.MaxImageMB) {
			return fmt.Errorf("%w: image %d bytes over %dMB", ErrFileTooLarge, size, e.limits.MaxImageMB)
		}
	case TypeAudio:
		if e.limits.MaxAudioMB > 0 && size > mb(e.limits.MaxAudioMB) {
			return fmt.Errorf("%w: %d bytes over %dMB", ErrAudioTooLarge, size, e.limits.MaxAudioMB)
		}
	case TypePDF:
		if e.limits.MaxUploadMB > 0 && size > mb(e.limits.MaxUploadMB) {
			return fmt.Errorf("%w: pdf %d bytes over %dMB", ErrFileTooLarge, size, e.limits.MaxUploadMB)
		}
	}
	return nil
}

// ExtractFile dispatches a local file to the pipeline for its type.
func (e *Extractor) ExtractFile(ctx context.Context, path, filename string) (*Result, error) {
	fileType, err := DetectFileType(filename)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	if err := e.ValidateSize(fileType, info.Size()); err != nil {
		return nil, err
	}

	switch fileType {
	case TypeText:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading text file: %w", err)
		}
		return &Result{Text: string(data), Type: TypeText, Confidence: 1.0, Source: filename, Tier: "direct"}, nil
	case TypePDF:
		return e.extractPDF(ctx, path, filename)
	case TypeImage:
		return e.extractImage(ctx, path, filename)
	case TypeAudio:
		return e.extractAudio(ctx, path, filename)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, fileType)
	}
}

// serviceResponse is the common reply shape of the PDF and OCR collaborators.
type serviceResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Pages      int     `json:"pages"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
}

// callService uploads the file to one collaborator endpoint and decodes its
// reply. Any non-200 or transport failure is an error so the caller can fall
// through to the next tier.
func (e *Extractor) callService(ctx context.Context, endpoint, path, filename string) (*serviceResponse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("service %s status %d", endpoint, resp.StatusCode)
	}

	var out serviceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding reply from %s: %w", endpoint, err)
	}
	return &out, nil
}

// extractPDF tries the primary parser, then the layout-aware fallback, then
// OCR on rendered pages. First tier that yields text wins.
func (e *Extractor) extractPDF(ctx context.Context, path, filename string) (*Result, error) {
	tiers := []struct {
		name     string
		endpoint string
	}{
		{"pdf_primary", e.cfg.PDFEndpoint},
		{"pdf_fallback", e.cfg.PDFFallbackEndpoint},
		{"pdf_ocr", e.cfg.PDFOCREndpoint},
	}

	var lastErr error
	for _, tier := range tiers {
		if tier.endpoint == "" {
			continue
		}
		resp, err := e.callService(ctx, tier.endpoint, path, filename)
		if err != nil {
			e.logger.Printf("pdf tier %s failed: %v", tier.name, err)
			lastErr = err
			continue
		}
		if resp.Text == "" {
			e.logger.Printf("pdf tier %s returned empty text", tier.name)
			lastErr = fmt.Errorf("tier %s returned no text", tier.name)
			continue
		}
		return &Result{
			Text:       resp.Text,
			Type:       TypePDF,
			Confidence: resp.Confidence,
			Pages:      resp.Pages,
			Source:     filename,
			Tier:       tier.name,
		}, nil
	}
	return nil, fmt.Errorf("%w: all pdf tiers exhausted: %v", ErrExtractionFailed, lastErr)
}

// extractImage runs primary OCR, escalating to the secondary engine when the
// primary's confidence falls below the configured floor.
func (e *Extractor) extractImage(ctx context.Context, path, filename string) (*Result, error) {
	primary, err := e.callService(ctx, e.cfg.OCREndpoint, path, filename)
	if err == nil && primary.Text != "" && primary.Confidence >= e.cfg.OCRConfidenceThreshold {
		return &Result{
			Text:       primary.Text,
			Type:       TypeImage,
			Confidence: primary.Confidence,
			Source:     filename,
			Tier:       "ocr_primary",
		}, nil
	}
	if err != nil {
		e.logger.Printf("primary ocr failed: %v", err)
	} else {
		e.logger.Printf("primary ocr confidence %.2f below %.2f, escalating", primary.Confidence, e.cfg.OCRConfidenceThreshold)
	}

	if e.cfg.OCRFallbackEndpoint != "" {
		secondary, serr := e.callService(ctx, e.cfg.OCRFallbackEndpoint, path, filename)
		if serr == nil && secondary.Text != "" {
			return &Result{
				Text:       secondary.Text,
				Type:       TypeImage,
				Confidence: secondary.Confidence,
				Source:     filename,
				Tier:       "ocr_fallback",
			}, nil
		}
		if serr != nil {
			e.logger.Printf("fallback ocr failed: %v", serr)
		}
	}

	// A weak primary read still beats nothing.
	if err == nil && primary.Text != "" {
		return &Result{
			Text:       primary.Text,
			Type:       TypeImage,
			Confidence: primary.Confidence,
			Source:     filename,
			Tier:       "ocr_primary",
		}, nil
	}
	return nil, fmt.Errorf("%w: all ocr tiers exhausted", ErrExtractionFailed)
}

// extractAudio transcribes via the provider. The size ceiling was enforced
// before we got here; there is no fallback tier for audio.
func (e *Extractor) extractAudio(ctx context.Context, path, filename string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	text, err := e.provider.Transcribe(ctx, f, filename, e.whisper)
	if err != nil {
		return nil, fmt.Errorf("%w: transcription: %v", ErrExtractionFailed, err)
	}
	if text == "" {
		return nil, fmt.Errorf("%w: empty transcript", ErrExtractionFailed)
	}
	return &Result{
		Text:       text,
		Type:       TypeAudio,
		Confidence: 1.0,
		Duration:   estimateDuration(path),
		Language:   firstOr(e.cfg.TranscriptLanguages, "en"),
		Source:     filename,
		Tier:       "whisper",
	}, nil
}

// estimateDuration approximates clip length from file size at a nominal
// 128 kbit/s. Good enough for payload metadata without a media probe.
func estimateDuration(path string) float64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return float64(info.Size()) / (128 * 1024 / 8)
}

func firstOr(list []string, def string) string {
	if len(list) > 0 {
		return list[0]
	}
	return def
}
