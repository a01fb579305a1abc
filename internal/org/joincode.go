package org

import (
	"math/rand"
	"strings"
)

const joinCodeLength = 8

const joinCodeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewJoinCode returns an 8-character base-36 code. Codes are human-shared,
// short-lived and rotatable, so math/rand is sufficient; they are not
// secrets.
func NewJoinCode() string {
	var b strings.Builder
	b.Grow(joinCodeLength)
	for i := 0; i < joinCodeLength; i++ {
		b.WriteByte(joinCodeAlphabet[rand.Intn(len(joinCodeAlphabet))])
	}
	return b.String()
}

// JoinCodeMatches compares a submitted code against the organization's
// current code, ignoring case.
func JoinCodeMatches(current, submitted string) bool {
	return current != "" && strings.EqualFold(current, submitted)
}
