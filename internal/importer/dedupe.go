package importer

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"unicode"
)

// Identity is what two properties must share to count as the same listing.
// When both external fields are set they decide alone; otherwise the
// normalized title, address and city fingerprint does.
type Identity struct {
	ExternalSource string
	ExternalID     string
	DedupeKey      string
}

// HasExternal reports whether the identity carries a source-side id
func (i Identity) HasExternal() bool {
	return i.ExternalSource != "" && i.ExternalID != ""
}

// Key is a single string usable for in-memory set membership
func (i Identity) Key() string {
	if i.HasExternal() {
		return "ext:" + i.ExternalSource + ":" + i.ExternalID
	}
	return "key:" + i.DedupeKey
}

// IdentityOf derives the identity of a mapped property
func IdentityOf(p *MappedProperty) Identity {
	return Identity{
		ExternalSource: p.ExternalSource,
		ExternalID:     p.ExternalID,
		DedupeKey:      DedupeKey(p.Title, p.Address, p.City),
	}
}

// DedupeKey fingerprints a property by its normalized title, address and city
func DedupeKey(title, address, city string) string {
	joined := normalize(title) + "|" + normalize(address) + "|" + normalize(city)
	sum := sha1.Sum([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// normalize lowercases, replaces punctuation with spaces and collapses whitespace
func normalize(s string) string {
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(mapped), " ")
}
