// Package idgen generates short prefix-tagged identifiers.
//
// IDs look like "iss-m1k2x9-7qf3": a prefix naming the entity kind, a base36
// time component, and a short random suffix for collision resistance. A
// collision surfaces as a primary-key violation at insert; it is never
// resolved silently.
package idgen

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Entity prefixes
const (
	PrefixProject = "proj"
	PrefixIssue   = "iss"
	PrefixOutcome = "out"
)

// base36Alphabet is the character set for base36 encoding (0-9, a-z).
const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const suffixLen = 4

// New returns a fresh ID with the given prefix.
func New(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, encodeBase36(time.Now().Unix()), randomSuffix())
}

// NewProjectID returns an ID for a project row.
func NewProjectID() string { return New(PrefixProject) }

// NewIssueID returns an ID for an issue row.
func NewIssueID() string { return New(PrefixIssue) }

// NewOutcomeID returns an ID for an outcome row.
func NewOutcomeID() string { return New(PrefixOutcome) }

// encodeBase36 converts a non-negative integer to base36.
func encodeBase36(n int64) string {
	if n <= 0 {
		return "0"
	}
	var b strings.Builder
	chars := make([]byte, 0, 8)
	for n > 0 {
		chars = append(chars, base36Alphabet[n%36])
		n /= 36
	}
	for i := len(chars) - 1; i >= 0; i-- {
		b.WriteByte(chars[i])
	}
	return b.String()
}

// randomSuffix returns suffixLen random base36 characters.
func randomSuffix() string {
	max := big.NewInt(36)
	var b strings.Builder
	for i := 0; i < suffixLen; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand failure means the platform is broken; fall back
			// to a time-derived digit rather than aborting ID generation.
			b.WriteByte(base36Alphabet[time.Now().UnixNano()%36])
			continue
		}
		b.WriteByte(base36Alphabet[n.Int64()])
	}
	return b.String()
}
