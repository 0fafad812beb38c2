package stats

import "DiceSentinel/internal/model"

// Sink renders a set of per-account results.
type Sink interface {
	Render(entries []Entry) error
}

// RenderAccounts collects accounts and passes them to every sink. The
// first error is returned after all sinks have run.
func RenderAccounts(accounts []model.Account, sinks ...Sink) error {
	entries := Collect(accounts)
	var first error
	for _, s := range sinks {
		if err := s.Render(entries); err != nil && first == nil {
			first = err
		}
	}
	return first
}
