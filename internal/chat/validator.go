package chat

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxTextChars is the longest accepted text body, in characters.
const MaxTextChars = 2000

// Content is the body of an outgoing message: text or an image, never both.
// Image is either a data: URL to upload or an http(s) URL that is stored as is.
type Content struct {
	Text  string `json:"text"`
	Image string `json:"image"`
}

// ValidateContent trims c and checks that exactly one field is set. It
// returns the normalised content.
func ValidateContent(c Content) (Content, error) {
	c.Text = strings.TrimSpace(c.Text)
	c.Image = strings.TrimSpace(c.Image)

	switch {
	case c.Text == "" && c.Image == "":
		return c, fmt.Errorf("%w: message must have text or an image", ErrValidation)
	case c.Text != "" && c.Image != "":
		return c, fmt.Errorf("%w: message cannot have both text and an image", ErrValidation)
	}

	if c.Text != "" {
		if !utf8.ValidString(c.Text) {
			return c, fmt.Errorf("%w: message contains invalid UTF-8", ErrValidation)
		}
		if utf8.RuneCountInString(c.Text) > MaxTextChars {
			return c, fmt.Errorf("%w: message exceeds %d character limit", ErrValidation, MaxTextChars)
		}
		return c, nil
	}

	if !IsDataURL(c.Image) && !strings.HasPrefix(c.Image, "https://") && !strings.HasPrefix(c.Image, "http://") {
		return c, fmt.Errorf("%w: image must be a data URL or an http(s) URL", ErrValidation)
	}
	return c, nil
}

// IsDataURL reports whether s is an inline data: URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}
