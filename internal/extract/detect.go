package extract

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Input types recognized by the pipeline.
const (
	TypeText    = "text"
	TypeImage   = "image"
	TypePDF     = "pdf"
	TypeAudio   = "audio"
	TypeYouTube = "youtube"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true, ".tiff": true}
	audioExts = map[string]bool{".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".flac": true, ".webm": true}

	youtubeIDPatterns = []*regexp.Regexp{
		regexp.MustCompile(`youtube\.com/watch\?v=([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/embed/([a-zA-Z0-9_-]{11})`),
		regexp.MustCompile(`youtube\.com/v/([a-zA-Z0-9_-]{11})`),
	}
)

// DetectFileType classifies an uploaded file by extension. Unrecognized
// extensions return ErrUnsupportedType.
func DetectFileType(filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch {
	case ext == ".pdf":
		return TypePDF, nil
	case imageExts[ext]:
		return TypeImage, nil
	case audioExts[ext]:
		return TypeAudio, nil
	case ext == ".txt" || ext == ".md":
		return TypeText, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, ext)
	}
}

// VideoID pulls the 11-character video id out of a YouTube URL in any of the
// common forms (watch, short link, embed). Empty string when the text holds
// no YouTube link.
func VideoID(text string) string {
	for _, re := range youtubeIDPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}

// IsYouTubeURL reports whether the message contains a YouTube video link.
func IsYouTubeURL(text string) bool {
	return VideoID(text) != ""
}
