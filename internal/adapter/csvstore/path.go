package csvstore

import (
	"errors"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Artifact identifies which per-city file a path refers to.
type Artifact int

const (
	ArtifactRaw Artifact = iota
	ArtifactCleaned
)

const (
	rawDir        = "raw"
	cleanedDir    = "processed"
	rawPrefix     = "weather_raw_"
	cleanedPrefix = "weather_clean_"
	fileExtension = ".csv"
	slugSeparator = '_'
	maxSlugLength = 64
)

// ErrEmptySlug is returned when a city identity contains no usable characters.
var ErrEmptySlug = errors.New("city identity has no letters or digits")

// Path maps a city identity and artifact kind to a file under dir.
// It is pure: the same inputs always give the same path, and nothing is
// touched on disk.
//
// The city part is a slug: diacritics are stripped ("Hà Nội" -> "ha_noi"),
// letters are lowercased, every run of other characters becomes a single
// underscore, and leading or trailing underscores are trimmed.
func Path(dir, city string, kind Artifact) (string, error) {
	slug := Slug(city)
	if slug == "" {
		return "", ErrEmptySlug
	}
	switch kind {
	case ArtifactCleaned:
		return filepath.Join(dir, cleanedDir, cleanedPrefix+slug+fileExtension), nil
	default:
		return filepath.Join(dir, rawDir, rawPrefix+slug+fileExtension), nil
	}
}

// Slug returns the file-name-safe form of a city identity.
func Slug(city string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), city)
	if err != nil {
		folded = city
	}

	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == 'đ':
			r = 'd'
		case r > unicode.MaxASCII:
			pendingSep = b.Len() > 0
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep {
				b.WriteRune(slugSeparator)
				pendingSep = false
			}
			b.WriteRune(r)
			continue
		}
		pendingSep = b.Len() > 0
	}

	s := b.String()
	if len(s) > maxSlugLength {
		s = strings.TrimRight(s[:maxSlugLength], string(slugSeparator))
	}
	return s
}
