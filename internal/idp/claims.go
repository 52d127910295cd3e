package idp

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/nestlease/kyc/errors"
)

// Profile is the canonical shape of a subject's verified attributes,
// normalized from whatever locale-suffixed claim variants the provider
// returned.
type Profile struct {
	SubjectID  string
	GivenName  string
	FamilyName string
	Email      string
	Phone      string
	Birthdate  string
	Gender     string
	Address    string
	PictureRef string
	Nonce      string
	RawClaims  map[string]any
}

// newProfile normalizes a decoded userinfo claim set. Claim resolution
// precedence, in order: the locale-suffixed claim for each configured locale
// ("given_name#am" before "given_name#en"), then the bare OIDC claim
// ("given_name"), and for names only, an unqualified "name" claim split on
// its first space as a last resort.
func newProfile(claims jwt.MapClaims, locales []string) (*Profile, error) {
	sub := stringClaim(claims, "sub", nil)
	if sub == "" {
		return nil, &apperrors.ProfileDecodeError{Reason: "userinfo JWT has no sub claim"}
	}

	p := &Profile{
		SubjectID:  sub,
		GivenName:  stringClaim(claims, "given_name", locales),
		FamilyName: stringClaim(claims, "family_name", locales),
		Email:      stringClaim(claims, "email", nil),
		Phone:      stringClaim(claims, "phone_number", nil),
		Birthdate:  stringClaim(claims, "birthdate", nil),
		Gender:     stringClaim(claims, "gender", locales),
		Address:    addressClaim(claims, locales),
		PictureRef: stringClaim(claims, "picture", nil),
		Nonce:      stringClaim(claims, "nonce", nil),
		RawClaims:  map[string]any(claims),
	}

	if p.GivenName == "" && p.FamilyName == "" {
		if full := stringClaim(claims, "name", locales); full != "" {
			given, family, _ := strings.Cut(full, " ")
			p.GivenName = given
			p.FamilyName = family
		}
	}

	return p, nil
}

// stringClaim resolves one claim by the documented precedence order.
func stringClaim(claims jwt.MapClaims, name string, locales []string) string {
	for _, locale := range locales {
		if v, ok := claims[name+"#"+locale].(string); ok && v != "" {
			return v
		}
	}
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// addressClaim flattens the OIDC address claim, which may arrive as a
// formatted string or as a structured object.
func addressClaim(claims jwt.MapClaims, locales []string) string {
	var raw any
	for _, locale := range locales {
		if v, ok := claims["address#"+locale]; ok {
			raw = v
			break
		}
	}
	if raw == nil {
		raw = claims["address"]
	}

	switch v := raw.(type) {
	case string:
		return v
	case map[string]any:
		if formatted, ok := v["formatted"].(string); ok && formatted != "" {
			return formatted
		}
		parts := make([]string, 0, 5)
		for _, field := range []string{"street_address", "locality", "region", "postal_code", "country"} {
			if s, ok := v[field].(string); ok && s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}
