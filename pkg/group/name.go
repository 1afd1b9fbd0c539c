package group

import (
	"regexp"
	"strconv"
)

// Name identifies one group, e.g. "group3". It is also the store key.
type Name string

// Naming describes the key pattern ^<prefix>\d+$ that group keys follow.
type Naming struct {
	Prefix  string
	pattern *regexp.Regexp
}

func NewNaming(prefix string) Naming {
	return Naming{
		Prefix:  prefix,
		pattern: regexp.MustCompile(`^` + regexp.QuoteMeta(prefix) + `(\d+)$`),
	}
}

// Name builds the canonical name for slot i.
func (n Naming) Name(i int) Name {
	return Name(n.Prefix + strconv.Itoa(i))
}

// Index returns the slot number of key. Keys that do not match the pattern, or
// that are not in canonical form (leading zeros, overflow), are rejected.
func (n Naming) Index(key string) (int, bool) {
	if n.pattern == nil {
		n = NewNaming(n.Prefix)
	}
	m := n.pattern.FindStringSubmatch(key)
	if m == nil {
		return 0, false
	}
	i, err := strconv.Atoi(m[1])
	if err != nil || strconv.Itoa(i) != m[1] {
		return 0, false
	}
	return i, true
}

// Matches reports whether key is a group key within [1, max].
func (n Naming) Matches(key string, max int) bool {
	i, ok := n.Index(key)
	return ok && i >= 1 && i <= max
}
