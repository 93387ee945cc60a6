// Package iban generates and validates the account identifiers and auth
// tokens used by the ledger. Identifiers follow the open-bank IBAN layout:
// "NL" + two check digits + "OPEN" + a ten-digit body.
package iban

import (
	"math/big"
	"math/rand/v2"
	"strings"
)

// CashAccount is the special unlimited funding source. It has no ledger row
// and transfers from it skip the debit leg entirely.
const CashAccount = "cash"

// Letter substitution per the IBAN mod-97 scheme: OPEN -> 24 25 14 23,
// NL -> 23 21, followed by the "00" checksum placeholder.
const (
	checkPrefix = "24251423"
	checkSuffix = "232100"
)

// New returns a freshly generated account identifier. Uniqueness is not
// guaranteed; callers must treat an existing ledger row for the returned
// id as a collision.
func New() string {
	var b strings.Builder
	b.WriteByte('0')
	for i := 0; i < 9; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return fromDigits(b.String())
}

// Valid reports whether s is a well-formed account identifier with a
// matching checksum.
func Valid(s string) bool {
	if len(s) != 18 {
		return false
	}
	return s == fromDigits(s[8:])
}

// UsableSource reports whether s may appear as the source of a transfer:
// either the special cash account or a valid account identifier.
func UsableSource(s string) bool {
	return s == CashAccount || Valid(s)
}

// NewToken returns a 20-digit authorization token. No uniqueness or
// checksum guarantees.
func NewToken() string {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}

func fromDigits(digits string) string {
	return "NL" + checkNumber(digits) + "OPEN" + digits
}

// checkNumber computes 98 - (prefix || digits || suffix) mod 97, zero-padded
// to two digits. The operand is 24 digits long, hence big.Int. Non-digit
// input yields an empty check number, which can never validate.
func checkNumber(digits string) string {
	n, ok := new(big.Int).SetString(checkPrefix+digits+checkSuffix, 10)
	if !ok {
		return ""
	}
	rem := new(big.Int).Mod(n, big.NewInt(97))
	check := 98 - rem.Int64()
	if check < 10 {
		return "0" + string(byte('0'+check))
	}
	return string([]byte{byte('0' + check/10), byte('0' + check%10)})
}
