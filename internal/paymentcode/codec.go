// Package paymentcode generates and recognises the short code a buyer types into a
// bank-transfer note so the incoming transfer can be matched to its checkout session.
//
// A code is a fixed prefix followed by exactly eight digits, e.g. PERF12345678.
package paymentcode

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	DefaultPrefix = "PERF"
	DigitCount    = 8

	// seedDigits is how many trailing seed digits are mixed into a code.
	seedDigits = 4
)

type Codec struct {
	prefix     string
	findRe     *regexp.Regexp
	anchoredRe *regexp.Regexp
}

func New(prefix string) *Codec {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		prefix = DefaultPrefix
	}
	quoted := regexp.QuoteMeta(prefix)
	return &Codec{
		prefix: prefix,
		// Bank apps echo the note with their own decoration around it, so the match
		// may sit anywhere; a ninth digit means it is not our code.
		findRe:     regexp.MustCompile(`(?i)` + quoted + `(\d{8})(?:\D|$)`),
		anchoredRe: regexp.MustCompile(`(?i)^` + quoted + `\d{8}$`),
	}
}

func (c *Codec) Prefix() string {
	return c.prefix
}

// Generate returns a new code. Up to four trailing digits of seed (typically the cart
// id) are kept and the rest is filled with random digits.
func (c *Codec) Generate(seed string) string {
	var digits strings.Builder
	for _, r := range seed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	fromSeed := digits.String()
	if len(fromSeed) > seedDigits {
		fromSeed = fromSeed[len(fromSeed)-seedDigits:]
	}

	var b strings.Builder
	b.Grow(len(c.prefix) + DigitCount)
	b.WriteString(c.prefix)
	b.WriteString(fromSeed)
	for i := len(fromSeed); i < DigitCount; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

// Extract finds the first code in free-form bank statement text and returns it in
// canonical form.
func (c *Codec) Extract(text string) (string, bool) {
	m := c.findRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return c.prefix + m[1], true
}

func (c *Codec) IsValid(code string) bool {
	return c.anchoredRe.MatchString(strings.TrimSpace(code))
}

// Normalize upper-cases a valid code; invalid input is returned unchanged.
func (c *Codec) Normalize(code string) string {
	code = strings.TrimSpace(code)
	if !c.IsValid(code) {
		return code
	}
	return c.prefix + code[len(c.prefix):]
}
