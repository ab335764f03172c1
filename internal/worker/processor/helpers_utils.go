package processor

import (
	"path"
	"strings"
)

// baseName strips any client-side directory, including Windows separators
// some browsers still send.
func baseName(name string) string {
	if name == "" {
		return ""
	}
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}

// Suffix returns the extension of an uploaded filename: the text from the last
// dot, dot included, case preserved. Leading dots of a dotfile do not start an
// extension, so ".env" has none.
func Suffix(name string) string {
	base := baseName(name)
	trimmed := strings.TrimLeft(base, ".")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 {
		return ""
	}
	return trimmed[i:]
}

// Stem returns the filename without directory and extension.
func Stem(name string) string {
	base := baseName(name)
	return strings.TrimSuffix(base, Suffix(base))
}

// ResultName is the download name of a run's video: <video stem>_<audio stem>.mp4.
func ResultName(videoName, audioName string) string {
	return Stem(videoName) + "_" + Stem(audioName) + ".mp4"
}

// IsTruthy evaluates a form or query flag: 1, true, yes or on, in any case.
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// SanitizeFilename makes a name safe to use as an object key segment.
func SanitizeFilename(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "..", "")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return "input"
	}
	return s
}

// MimeFromExt returns the content type stored with an uploaded input.
func MimeFromExt(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "wav":
		return "audio/wav"
	case "mp3":
		return "audio/mpeg"
	case "mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
