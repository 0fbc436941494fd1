package worker

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker's name for logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithInvalidator registers a hook invalidating cached resolutions for a
// subject after its signal set changes.
func WithInvalidator(fn func(subjectID string)) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.invalidate = fn
		}
	}
}
