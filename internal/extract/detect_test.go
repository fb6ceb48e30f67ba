package extract

import (
	"errors"
	"testing"
)

func TestDetectFileType(t *testing.T) {
	cases := []struct {
		filename string
		want     string
	}{
		{"report.pdf", TypePDF},
		{"scan.PNG", TypeImage},
		{"photo.jpeg", TypeImage},
		{"meeting.mp3", TypeAudio},
		{"voice.M4A", TypeAudio},
		{"notes.txt", TypeText},
		{"readme.md", TypeText},
	}
	for _, tc := range cases {
		got, err := DetectFileType(tc.filename)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tc.filename, err)
		}
		if got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.filename, got, tc.want)
		}
	}
}

func TestDetectFileTypeUnsupported(t *testing.T) {
	for _, name := range []string{"archive.zip", "program.exe", "noextension"} {
		if _, err := DetectFileType(name); !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("%s: expected ErrUnsupportedType, got %v", name, err)
		}
	}
}

func TestVideoID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"check https://www.youtube.com/watch?v=dQw4w9WgXcQ please", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/v/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"just some text", ""},
		{"https://vimeo.com/12345", ""},
		{"https://youtu.be/short", ""}, // ids are exactly 11 chars
	}
	for _, tc := range cases {
		if got := VideoID(tc.in); got != tc.want {
			t.Errorf("VideoID(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
