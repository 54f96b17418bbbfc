package domain

import (
	"fmt"
	"strings"
)

// ReactionStyle is the set of reaction symbols a guild expects on watched
// items, with optional human-readable meanings rendered in reminder text.
type ReactionStyle struct {
	Symbols  []string
	Meanings []string
}

// DefaultReactionStyle returns the style applied when a guild has not
// configured one.
func DefaultReactionStyle() ReactionStyle {
	return ReactionStyle{
		Symbols:  []string{"✅", "❌", "❓"},
		Meanings: []string{"yes", "no", "maybe"},
	}
}

// presetMeanings maps well-known symbol sets to their conventional meanings,
// keyed by the symbols joined with "|".
var presetMeanings = map[string][]string{
	"✅|❌":    {"yes", "no"},
	"✅|❌|❓":  {"yes", "no", "maybe"},
	"👍|👎":    {"approve", "reject"},
	"🟢|🟡|🔴": {"on track", "at risk", "blocked"},
}

// ResolveMeanings fills in Meanings when the caller supplied none: an exact
// preset match adopts the preset's meanings, anything else stays bare.
func (s ReactionStyle) ResolveMeanings() ReactionStyle {
	if len(s.Meanings) > 0 {
		return s
	}
	if meanings, ok := presetMeanings[strings.Join(s.Symbols, "|")]; ok {
		s.Meanings = append([]string(nil), meanings...)
	}
	return s
}

func (s ReactionStyle) Validate() error {
	if len(s.Symbols) < 2 || len(s.Symbols) > 10 {
		return fmt.Errorf("%w: reaction style needs between 2 and 10 symbols (got %d)", ErrValidation, len(s.Symbols))
	}
	seen := make(map[string]struct{}, len(s.Symbols))
	for _, symbol := range s.Symbols {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("%w: reaction symbols must not be blank", ErrValidation)
		}
		if _, ok := seen[symbol]; ok {
			return fmt.Errorf("%w: duplicate reaction symbol %q", ErrValidation, symbol)
		}
		seen[symbol] = struct{}{}
	}
	if len(s.Meanings) > 0 && len(s.Meanings) != len(s.Symbols) {
		return fmt.Errorf("%w: meanings must match symbols (%d symbols, %d meanings)", ErrValidation, len(s.Symbols), len(s.Meanings))
	}
	return nil
}

// InstructionText renders the reminder sentence telling users how to react,
// e.g. "React with ✅ (yes), ❌ (no) or ❓ (maybe).". A style without symbols
// renders the default style's sentence.
func (s ReactionStyle) InstructionText() string {
	if len(s.Symbols) == 0 {
		s = DefaultReactionStyle()
	}

	resolved := s.ResolveMeanings()
	parts := make([]string, len(resolved.Symbols))
	for i, symbol := range resolved.Symbols {
		if i < len(resolved.Meanings) && resolved.Meanings[i] != "" {
			parts[i] = fmt.Sprintf("%s (%s)", symbol, resolved.Meanings[i])
		} else {
			parts[i] = symbol
		}
	}

	return "React with " + joinAlternatives(parts) + "."
}

// joinAlternatives joins parts as an English alternative list: "a",
// "a or b", "a, b or c".
func joinAlternatives(parts []string) string {
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	case 2:
		return parts[0] + " or " + parts[1]
	default:
		return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1]
	}
}
