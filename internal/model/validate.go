package model

import (
	"fmt"
	"unicode/utf8"
)

// Field limits for reports and proposed changes. Summary and content caps
// keep a single oversized field from filling TEXT columns with
// caller-controlled garbage.
const (
	MaxTitleLen      = 500
	MinSummaryLen    = 3
	MaxSummaryLen    = 32 * 1024 // 32 KB
	MaxContentLen    = 256 * 1024
	MaxNotesLen      = 32 * 1024
	MaxInstructionLen = 16 * 1024
	MaxActorLen      = 255

	MinImportance = 1
	MaxImportance = 10
)

// ValidateEntityID checks that a report, section, or insight identifier
// conforms to the allowed format: 1-128 ASCII characters, alphanumeric plus
// dots, hyphens, and underscores.
func ValidateEntityID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("identifier is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("identifier must be at most 128 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("identifier contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateTitle checks a report or section title: non-empty, valid UTF-8,
// at most MaxTitleLen characters, no control characters.
func ValidateTitle(title string) error {
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("title must be valid UTF-8")
	}
	if utf8.RuneCountInString(title) > MaxTitleLen {
		return fmt.Errorf("title must be at most %d characters", MaxTitleLen)
	}
	for _, r := range title {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("title contains control character %q", r)
		}
	}
	return nil
}

// ValidateTag checks that a tag conforms to the allowed format.
// Tags must start with a lowercase letter and contain only lowercase
// alphanumeric characters, hyphens, and underscores.
func ValidateTag(tag string) error {
	if len(tag) == 0 {
		return fmt.Errorf("tag must not be empty")
	}
	if len(tag) > 64 {
		return fmt.Errorf("tag must be at most 64 characters")
	}
	for i := 0; i < len(tag); i++ {
		c := tag[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("tag must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' {
			return fmt.Errorf("tag contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// ValidateImportance checks the importance score range.
func ValidateImportance(importance int) error {
	if importance < MinImportance || importance > MaxImportance {
		return fmt.Errorf("importance must be between %d and %d, got %d",
			MinImportance, MaxImportance, importance)
	}
	return nil
}

// ValidateSummary checks insight summary length bounds.
func ValidateSummary(summary string) error {
	if utf8.RuneCountInString(summary) < MinSummaryLen {
		return fmt.Errorf("summary must be at least %d characters", MinSummaryLen)
	}
	if len(summary) > MaxSummaryLen {
		return fmt.Errorf("summary exceeds maximum length of %d bytes", MaxSummaryLen)
	}
	return nil
}
