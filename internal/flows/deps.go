package flows

// Deps groups the flow dependency sets the engine builds once at Build time.
type Deps struct {
	Recovery     ChallengeDeps
	Verification ChallengeDeps
}
