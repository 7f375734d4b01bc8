package auth

import (
	"crypto/rand"
	"html"
	"math/big"
	"strings"
	"unicode"
)

// ProviderProfile is what an identity provider tells us about a new user.
type ProviderProfile struct {
	Email      string
	FullName   string
	GivenName  string
	FamilyName string
}

// Profile holds the display fields stored on a new identity.
type Profile struct {
	Name      string
	FirstName string
	LastName  string
}

// SynthesizeProfile derives display fields from whatever the provider sent.
// The name comes from the full name, then given and family names, then the
// email local part.
func SynthesizeProfile(p ProviderProfile) Profile {
	full := SanitizeName(p.FullName)
	given := SanitizeName(p.GivenName)
	family := SanitizeName(p.FamilyName)

	var out Profile
	switch {
	case full != "":
		out.Name = full
	case given != "" || family != "":
		out.Name = strings.TrimSpace(given + " " + family)
	default:
		out.Name = SanitizeName(emailLocalPart(p.Email))
	}

	out.FirstName, out.LastName = given, family
	if out.FirstName == "" && out.LastName == "" {
		first, rest, _ := strings.Cut(out.Name, " ")
		out.FirstName, out.LastName = first, strings.TrimSpace(rest)
	}
	return out
}

func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return local
}

// SanitizeName trims a name, collapses inner whitespace, strips control
// characters and escapes HTML.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, name)
	return html.EscapeString(strings.Join(strings.Fields(name), " "))
}

const (
	userCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	UserCodeLength   = 8
)

// GenerateUserCode returns a random short code for an identity. Ambiguous
// characters (0, O, 1, I) are never used.
func GenerateUserCode() (string, error) {
	limit := big.NewInt(int64(len(userCodeAlphabet)))
	var b strings.Builder
	b.Grow(UserCodeLength)
	for i := 0; i < UserCodeLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(userCodeAlphabet[n.Int64()])
	}
	return b.String(), nil
}
