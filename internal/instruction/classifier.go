// Package instruction classifies free-text split instructions.
//
// A split instruction must name its participants. Collective pronouns such as
// "we", "us" or "everyone" leave the set of people undefined, so an instruction
// that relies on one is rejected as a whole, even when it also names someone
// explicitly ("send it to me and split the rest with us").
package instruction

import (
	"strings"
	"unicode"
)

// Class is the outcome of classifying an instruction.
type Class string

// Classification outcomes.
const (
	Specific Class = "SPECIFIC"
	Vague    Class = "VAGUE"
)

// VagueMessage is the rejection shown to the user for a vague instruction.
const VagueMessage = "Instruction is too vague. Please use explicit names instead of 'we' or 'us'."

// UnreadableMessage is the rejection shown to the user when the bill can't be read.
const UnreadableMessage = "Bill is unreadable. Please upload a clearer image."

// collective words never identify who is meant by themselves.
var collective = map[string]bool{
	"we":        true,
	"us":        true,
	"our":       true,
	"ours":      true,
	"ourselves": true,
	"everyone":  true,
	"everybody": true,
}

// filler words that don't count as a name inside an appositive list.
var filler = map[string]bool{
	"and": true, "or": true, "with": true, "me": true, "i": true, "you": true,
	"all": true, "of": true, "the": true, "both": true, "plus": true,
}

// Result carries the class and, for vague instructions, the offending words.
type Result struct {
	Class      Class
	Unresolved []string
}

// Classify returns Specific when the instruction names its participants and Vague
// when it is empty or contains a collective pronoun that is not resolved by an
// immediately following name list, e.g. "us (Alice and Bob)" or "us: Alice, Bob".
func Classify(text string) Class {
	return Analyze(text).Class
}

// Analyze is Classify with the unresolved collective words reported.
func Analyze(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{Class: Vague}
	}

	var unresolved []string
	for _, w := range words(text) {
		if !collective[w.lower] {
			continue
		}
		if resolved(text[w.end:]) {
			continue
		}
		unresolved = append(unresolved, w.lower)
	}

	if len(unresolved) > 0 {
		return Result{Class: Vague, Unresolved: unresolved}
	}
	return Result{Class: Specific}
}

type word struct {
	lower string
	end   int // byte offset just past the word
}

// words splits text on anything that isn't a letter, so "we're" yields "we" and "re".
func words(text string) []word {
	var out []word
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			out = append(out, word{lower: strings.ToLower(text[start:i]), end: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, word{lower: strings.ToLower(text[start:]), end: len(text)})
	}
	return out
}

// resolved reports whether rest opens with a parenthetical or colon list that
// contains at least one word that could be a name.
func resolved(rest string) bool {
	rest = strings.TrimLeft(rest, " \t")
	if rest == "" {
		return false
	}

	var list string
	switch rest[0] {
	case '(':
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return false
		}
		list = rest[1:end]
	case ':':
		list = rest[1:]
		if end := strings.IndexAny(list, ".;!?\n"); end >= 0 {
			list = list[:end]
		}
	default:
		return false
	}

	for _, w := range words(list) {
		if !collective[w.lower] && !filler[w.lower] {
			return true
		}
	}
	return false
}
