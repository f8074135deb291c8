package validation

import (
	"chat-bot/pkg/apperrors"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultMaxInputChars is the message length limit when none is configured
	DefaultMaxInputChars = 2000

	maxRepeatingChars = 20
	maxRepeatingLines = 5
)

var suspiciousPatterns = compilePatterns(
	`ignore\s+(all\s+)?previous\s+instructions`,
	`ignore\s+(all\s+)?above`,
	`disregard\s+(all\s+)?previous`,
	`you\s+are\s+now\s+DAN`,
	`act\s+as\s+if\s+you\s+have\s+no\s+restrictions`,
	`pretend\s+you\s+(are|have)\s+no\s+(rules|restrictions|limits)`,
	`jailbreak`,
	`override\s+system\s+prompt`,
	`reveal\s+(your|the)\s+system\s+prompt`,
	`show\s+(me\s+)?(your|the)\s+(system\s+)?prompt`,
	`what\s+(is|are)\s+your\s+(system\s+)?(instructions|prompt|rules)`,
)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(`(?i)`+p))
	}
	return compiled
}

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct {
	maxInputChars int
}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator(maxInputChars int) *ChatRequestValidator {
	if maxInputChars <= 0 {
		maxInputChars = DefaultMaxInputChars
	}
	return &ChatRequestValidator{maxInputChars: maxInputChars}
}

// MaxInputChars returns the configured message length limit
func (v *ChatRequestValidator) MaxInputChars() int {
	return v.maxInputChars
}

// ValidateMessage validates a chat message and returns it trimmed.
// Suspected prompt injection is not rejected; use DetectInjection to find it.
func (v *ChatRequestValidator) ValidateMessage(message string) (string, error) {
	cleaned := strings.TrimSpace(message)
	if cleaned == "" {
		return "", apperrors.New(apperrors.KindValidation, "validation.message", "message cannot be empty")
	}

	if n := utf8.RuneCountInString(cleaned); n > v.maxInputChars {
		return "", apperrors.New(apperrors.KindValidation, "validation.message",
			fmt.Sprintf("message is too long: max %d characters, got %d", v.maxInputChars, n))
	}

	if longestRun(cleaned) > maxRepeatingChars {
		return "", apperrors.New(apperrors.KindValidation, "validation.message", "message repeats the same character too many times")
	}

	if mostRepeatedLine(cleaned) > maxRepeatingLines {
		return "", apperrors.New(apperrors.KindValidation, "validation.message", "message repeats the same line too many times")
	}

	return cleaned, nil
}

// DetectInjection returns the fragments of text that look like prompt injection
func (v *ChatRequestValidator) DetectInjection(text string) []string {
	var matches []string
	for _, p := range suspiciousPatterns {
		if m := p.FindString(text); m != "" {
			matches = append(matches, m)
		}
	}
	return matches
}

// Analysis is a detailed breakdown of a message, for admin diagnostics
type Analysis struct {
	Valid      bool
	Reason     string
	Chars      int
	Words      int
	Lines      int
	Suspicious []string
}

// Analyze validates text and reports its shape and injection matches
func (v *ChatRequestValidator) Analyze(text string) Analysis {
	cleaned := strings.TrimSpace(text)
	a := Analysis{
		Valid:      true,
		Chars:      utf8.RuneCountInString(cleaned),
		Words:      len(strings.Fields(cleaned)),
		Suspicious: v.DetectInjection(cleaned),
	}
	if cleaned != "" {
		a.Lines = strings.Count(cleaned, "\n") + 1
	}
	if _, err := v.ValidateMessage(text); err != nil {
		a.Valid = false
		a.Reason = UserMessage(err)
	}
	return a
}

// ValidateTemperature validates the temperature parameter
func (v *ChatRequestValidator) ValidateTemperature(temperature float64) error {
	if temperature < 0 || temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %.2f", temperature)
	}
	return nil
}

// ValidateTopP validates the nucleus sampling parameter
func (v *ChatRequestValidator) ValidateTopP(topP float64) error {
	if topP <= 0 || topP > 1 {
		return fmt.Errorf("top_p must be in (0, 1], got %.2f", topP)
	}
	return nil
}

// ValidateMaxNewTokens validates the generation length limit
func (v *ChatRequestValidator) ValidateMaxNewTokens(maxNewTokens int) error {
	if maxNewTokens <= 0 {
		return fmt.Errorf("max_new_tokens must be positive, got %d", maxNewTokens)
	}
	return nil
}

// ValidateSamplingParams validates all sampling parameters at once
func (v *ChatRequestValidator) ValidateSamplingParams(temperature, topP float64, maxNewTokens int) error {
	if err := v.ValidateTemperature(temperature); err != nil {
		return err
	}

	if err := v.ValidateTopP(topP); err != nil {
		return err
	}

	if err := v.ValidateMaxNewTokens(maxNewTokens); err != nil {
		return err
	}

	return nil
}

// UserMessage returns the user-safe text of a validation error
func UserMessage(err error) string {
	var e *apperrors.Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "invalid message"
}

func longestRun(s string) int {
	longest, run := 0, 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run > longest {
			longest = run
		}
	}
	return longest
}

func mostRepeatedLine(s string) int {
	counts := make(map[string]int)
	total, most := 0, 0
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimFunc(line, unicode.IsSpace)
		if line == "" {
			continue
		}
		total++
		counts[line]++
		if counts[line] > most {
			most = counts[line]
		}
	}
	if total <= 1 {
		return 0
	}
	return most
}
