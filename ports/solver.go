package ports

// Solver maps puzzles to fingerprints. Implementations must be pure and must
// agree bit for bit with the issuer that checks the answers.
type Solver interface {
	Solve(problems []int) []string
}

// SolverFunc adapts a plain function to Solver
type SolverFunc func(problems []int) []string

// Solve calls f(problems)
func (f SolverFunc) Solve(problems []int) []string {
	return f(problems)
}
