package extract

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// timedtext is the caption document returned by the transcript endpoint.
type timedtext struct {
	XMLName xml.Name `xml:"transcript"`
	Lines   []struct {
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
		Text  string  `xml:",chardata"`
	} `xml:"text"`
}

// ExtractYouTube fetches the caption track for the video linked in message,
// trying each preferred language in order. The last caption line's end time
// doubles as the video duration estimate.
func (e *Extractor) ExtractYouTube(ctx context.Context, message string) (*Result, error) {
	videoID := VideoID(message)
	if videoID == "" {
		return nil, fmt.Errorf("%w: no video id in message", ErrExtractionFailed)
	}

	languages := e.cfg.TranscriptLanguages
	if len(languages) == 0 {
		languages = []string{"en"}
	}

	var lastErr error
	for _, lang := range languages {
		text, duration, err := e.fetchTranscript(ctx, videoID, lang)
		if err != nil {
			e.logger.Printf("transcript %s lang=%s failed: %v", videoID, lang, err)
			lastErr = err
			continue
		}
		return &Result{
			Text:       text,
			Type:       TypeYouTube,
			Confidence: 1.0,
			Duration:   duration,
			Language:   lang,
			Source:     "https://www.youtube.com/watch?v=" + videoID,
			Tier:       "timedtext",
		}, nil
	}
	return nil, fmt.Errorf("%w: no transcript in languages %v: %v", ErrExtractionFailed, languages, lastErr)
}

func (e *Extractor) fetchTranscript(ctx context.Context, videoID, lang string) (string, float64, error) {
	endpoint := fmt.Sprintf("%s/api/timedtext?lang=%s&v=%s",
		e.transcriptBaseURL, url.QueryEscape(lang), url.QueryEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetching transcript: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("timedtext status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("reading transcript: %w", err)
	}
	// An empty body means the track does not exist for this language.
	if len(strings.TrimSpace(string(body))) == 0 {
		return "", 0, fmt.Errorf("no %s track", lang)
	}

	var doc timedtext
	if err := xml.Unmarshal(body, &doc); err != nil {
		return "", 0, fmt.Errorf("parsing transcript: %w", err)
	}
	if len(doc.Lines) == 0 {
		return "", 0, fmt.Errorf("empty %s track", lang)
	}

	parts := make([]string, 0, len(doc.Lines))
	var end float64
	for _, line := range doc.Lines {
		t := strings.TrimSpace(html.UnescapeString(line.Text))
		if t != "" {
			parts = append(parts, t)
		}
		if lineEnd := line.Start + line.Dur; lineEnd > end {
			end = lineEnd
		}
	}
	return strings.Join(parts, " "), end, nil
}
