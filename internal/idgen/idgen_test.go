package idgen

import (
	"regexp"
	"testing"
)

var idPattern = regexp.MustCompile(`^(proj|iss|out)-[0-9a-z]+-[0-9a-z]{4}$`)

func TestNewPrefixes(t *testing.T) {
	cases := map[string]func() string{
		"proj": NewProjectID,
		"iss":  NewIssueID,
		"out":  NewOutcomeID,
	}
	for prefix, gen := range cases {
		id := gen()
		if !idPattern.MatchString(id) {
			t.Errorf("id %q does not match the expected shape", id)
		}
		if id[:len(prefix)] != prefix {
			t.Errorf("id %q missing prefix %q", id, prefix)
		}
	}
}

func TestEncodeBase36(t *testing.T) {
	cases := map[int64]string{
		0:    "0",
		1:    "1",
		35:   "z",
		36:   "10",
		1295: "zz",
	}
	for n, want := range cases {
		if got := encodeBase36(n); got != want {
			t.Errorf("encodeBase36(%d) = %q, want %q", n, got, want)
		}
	}
}
