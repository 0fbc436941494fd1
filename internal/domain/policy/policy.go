// Package policy maps fused confidence values to automation actions.
package policy

// Action is what the engine does with a fused confidence.
type Action string

const (
	// AutoLink silently links the entity; only the top band earns this.
	AutoLink Action = "auto_link"

	// AutoLinkFlagged links but surfaces a review flag.
	AutoLinkFlagged Action = "auto_link_flagged"

	// Suggest asks the user to confirm before linking.
	Suggest Action = "suggest"

	// Ignore produces no user-visible action at all.
	Ignore Action = "ignore"
)

// Default thresholds. These live here as defaults only; deployments tune
// them through configuration, never by editing the fusion math.
const (
	defaultAutoLink = 0.85
	defaultFlagged  = 0.60
	defaultSuggest  = 0.30
)

// Option applies a configuration option to the Gate.
type Option func(*Gate)

// WithThresholds sets the three band boundaries. Invalid combinations
// (out of order or outside [0,1]) leave the defaults in place; Validate
// reports them explicitly for config-time checks.
func WithThresholds(autoLink, flagged, suggest float64) Option {
	return func(g *Gate) {
		if valid(autoLink, flagged, suggest) {
			g.autoLink = autoLink
			g.flagged = flagged
			g.suggest = suggest
		}
	}
}

func valid(autoLink, flagged, suggest float64) bool {
	return suggest >= 0 && autoLink <= 1 && suggest < flagged && flagged < autoLink
}

// Gate holds the confidence bands. Boundaries are inclusive on the lower
// side of each band: exactly 0.85 auto-links, exactly 0.6 flags, exactly
// 0.3 suggests.
type Gate struct {
	autoLink float64
	flagged  float64
	suggest  float64
}

// NewGate creates a Gate with default bands and applies options.
func NewGate(opts ...Option) *Gate {
	g := &Gate{autoLink: defaultAutoLink, flagged: defaultFlagged, suggest: defaultSuggest}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate checks an arbitrary threshold combination for config loading.
func Validate(autoLink, flagged, suggest float64) error {
	if !valid(autoLink, flagged, suggest) {
		return ErrInvalidThresholds
	}
	return nil
}

// Decide maps a fused confidence to an action.
func (g *Gate) Decide(confidence float64) Action {
	switch {
	case confidence >= g.autoLink:
		return AutoLink
	case confidence >= g.flagged:
		return AutoLinkFlagged
	case confidence >= g.suggest:
		return Suggest
	default:
		return Ignore
	}
}

// AutoLinkThreshold exposes the top band boundary. The cascade uses it to
// short-circuit expensive candidate scoring once a cheap explicit signal
// already clears the band.
func (g *Gate) AutoLinkThreshold() float64 {
	return g.autoLink
}
