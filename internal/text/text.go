// Package text maps transcripts onto the character symbol inventory the
// speech models were trained with.
package text

import (
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyText is returned when no symbol survives cleaning.
var ErrEmptyText = errors.New("text is empty")

// Symbol inventory in ID order: pad, hyphen, punctuation (including space),
// then letters.
const symbolInventory = "_-!'(),.:;? ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

var symbolIDs = buildSymbolIDs()

func buildSymbolIDs() map[rune]int64 {
	ids := make(map[rune]int64, len(symbolInventory))
	for i, r := range symbolInventory {
		ids[r] = int64(i)
	}

	return ids
}

// NumSymbols returns the size of the symbol inventory.
func NumSymbols() int {
	return len(symbolInventory)
}

// Clean lowercases text, normalizes line endings and collapses whitespace
// runs into single spaces.
func Clean(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))

	space := false

	for _, r := range s {
		if unicode.IsSpace(r) {
			space = true
			continue
		}

		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}

		space = false
		b.WriteRune(r)
	}

	return b.String()
}

// ToSequence cleans a transcript and maps each character onto its symbol ID.
// Characters outside the inventory are dropped. A transcript with no usable
// symbols is an error.
func ToSequence(s string) ([]int64, error) {
	cleaned := Clean(s)

	seq := make([]int64, 0, len(cleaned))

	for _, r := range cleaned {
		id, ok := symbolIDs[r]
		if !ok {
			continue
		}

		seq = append(seq, id)
	}

	if len(seq) == 0 {
		return nil, ErrEmptyText
	}

	return seq, nil
}
