// Package solver holds the default BOTCHA challenge solver.
package solver

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/layer-3/botcha/ports"
)

// FingerprintLength is the number of hex characters in one answer
const FingerprintLength = 8

// SHA256 answers each puzzle with the first 8 hex characters of the SHA-256
// digest of its decimal representation.
var SHA256 ports.Solver = ports.SolverFunc(Solve)

// Solve returns one fingerprint per problem, in order
func Solve(problems []int) []string {
	answers := make([]string, len(problems))
	for i, p := range problems {
		answers[i] = Fingerprint(p)
	}
	return answers
}

// Fingerprint computes the answer for a single puzzle
func Fingerprint(problem int) string {
	sum := sha256.Sum256([]byte(strconv.Itoa(problem)))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}
