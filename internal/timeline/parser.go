package timeline

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/DK-com2/PATHFINDER-WEB/internal/logging"
)

// DefaultPeekSize is how many leading bytes a stream may inspect to find its
// first structural token.
const DefaultPeekSize = 4096

// Option configures a Parser.
type Option func(*Parser)

// WithLocation sets the zone naive timestamps are read in.
func WithLocation(loc *time.Location) Option {
	return func(p *Parser) {
		if loc != nil {
			p.loc = loc
		}
	}
}

// WithRules overrides the validation thresholds.
func WithRules(rules Rules) Option {
	return func(p *Parser) {
		p.rules = rules
	}
}

// WithLogger overrides the logger used for stream diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Parser) {
		p.logger = logger
	}
}

// WithPeekSize bounds the prefix inspected when sniffing a stream.
func WithPeekSize(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.peekSize = n
		}
	}
}

// Parser holds the static configuration shared by parse sessions. It is
// immutable after construction and safe for concurrent use; each Parse or
// NewStream call gets its own Session.
type Parser struct {
	loc      *time.Location
	rules    Rules
	logger   zerolog.Logger
	peekSize int
}

// NewParser constructs a Parser. Without options naive timestamps are read
// in DefaultInputZone and DefaultRules apply.
func NewParser(opts ...Option) *Parser {
	p := &Parser{
		rules:    DefaultRules(),
		logger:   logging.Component("timeline"),
		peekSize: DefaultPeekSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.loc == nil {
		loc, err := LoadZone(DefaultInputZone)
		if err != nil {
			loc = time.FixedZone("JST", 9*60*60)
		}
		p.loc = loc
	}
	return p
}

// Rules returns the validation thresholds in use.
func (p *Parser) Rules() Rules { return p.rules }

// NewSession starts a parse session for owner.
func (p *Parser) NewSession(owner string) *Session {
	return &Session{
		owner:      owner,
		normalizer: NewNormalizer(p.loc),
		validator:  NewValidator(p.rules),
	}
}
