package password

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
)

// trivialPasswords are rejected outright when RejectVeryWeak is on. Compared lower-cased.
var trivialPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"123456":      {},
	"12345678":    {},
	"123456789":   {},
	"qwerty":      {},
	"qwerty123":   {},
	"letmein":     {},
	"11111111":    {},
}

// Check applies p to plain. Lengths are counted in runes.
func (p Policy) Check(plain string) error {
	switch n := utf8.RuneCountInString(plain); {
	case n < p.MinLength:
		return ErrPasswordTooShort
	case n > p.MaxLength:
		return ErrPasswordTooLong
	}
	if p.RejectVeryWeak && veryWeak(plain) {
		return ErrWeakPassword
	}
	return nil
}

// Validate checks plain against c.Policy.
func (c Config) Validate(plain string) error { return c.Policy.Check(plain) }

// veryWeak catches only the obvious cases: blank, one repeated rune, short
// digit-only PINs and a small deny list.
func veryWeak(plain string) bool {
	s := strings.TrimSpace(plain)
	if s == "" {
		return true
	}
	if _, ok := trivialPasswords[strings.ToLower(s)]; ok {
		return true
	}

	first, _ := utf8.DecodeRuneInString(s)
	if strings.Trim(s, string(first)) == "" {
		return true
	}

	return utf8.RuneCountInString(s) < 12 && strings.IndexFunc(s, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}
