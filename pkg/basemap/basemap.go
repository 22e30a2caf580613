// Package basemap decides which tile provider backs the map: a blank
// canvas, a pre-packaged offline tile set, or token-gated hybrid tiles.
// Exactly one provider is active at a time, and every transition funnels
// through one goroutine so the state cannot be torn by concurrent handlers.
package basemap

import (
	"strings"

	"github.com/MaineSkyPixels/Metainfo-Mapper/pkg/geo"
)

// Provider identifies the active base layer.
type Provider int

const (
	ProviderNone Provider = iota
	ProviderOffline
	ProviderHybrid
)

func (p Provider) String() string {
	switch p {
	case ProviderOffline:
		return "offline"
	case ProviderHybrid:
		return "hybrid"
	default:
		return "none"
	}
}

// Config is the static provider setup read at startup.
type Config struct {
	// OfflineConfigured is true when an offline tile source exists; it is
	// the fallback for every hybrid failure.
	OfflineConfigured bool

	// ServerToken is the operator-supplied hybrid token, if any. An empty
	// user token reverts to it instead of dropping to the fallback.
	ServerToken string
}

// State is the externally visible provider choice. ActiveToken is only
// meaningful while Provider is ProviderHybrid.
type State struct {
	Provider    Provider `json:"provider"`
	ActiveToken string   `json:"-"`
}

// View tells the rendering collaborator how to frame the dataset. The pan
// constraint is present only for hybrid tiles, where panning outside the
// purchased coverage would just show void.
type View struct {
	Fit           geo.Bounds  `json:"fit"`
	PanConstraint *geo.Bounds `json:"panConstraint,omitempty"`
}

type opKind int

const (
	opSetToken opKind = iota
	opBounds
	opTileFailure
	opReset
	opState
)

type op struct {
	kind   opKind
	token  string
	bounds geo.Bounds
	reply  chan reply
}

type reply struct {
	state State
	view  View
}

// Selector runs the provider state machine.
type Selector struct {
	cfg Config
	ops chan op
}

// NewSelector starts the state machine in its startup state: offline tiles
// when configured, otherwise a blank canvas. A server token alone does not
// activate hybrid tiles; that takes an explicit SetToken.
func NewSelector(cfg Config) *Selector {
	s := &Selector{cfg: cfg, ops: make(chan op)}
	go s.run()
	return s
}

func (s *Selector) fallback() State {
	if s.cfg.OfflineConfigured {
		return State{Provider: ProviderOffline}
	}
	return State{Provider: ProviderNone}
}

func (s *Selector) run() {
	cur := s.fallback()
	for o := range s.ops {
		var v View
		switch o.kind {
		case opSetToken:
			token := strings.TrimSpace(o.token)
			switch {
			case token != "":
				cur = State{Provider: ProviderHybrid, ActiveToken: token}
			case s.cfg.ServerToken != "":
				cur = State{Provider: ProviderHybrid, ActiveToken: s.cfg.ServerToken}
			default:
				cur = s.fallback()
			}
		case opBounds:
			if cur.Provider == ProviderHybrid && cur.ActiveToken != "" {
				constraint := o.bounds
				v = View{Fit: o.bounds, PanConstraint: &constraint}
			} else {
				cur = s.fallback()
				v = View{Fit: o.bounds}
			}
		case opTileFailure:
			// Hybrid is never retried automatically; the user must
			// re-apply a token to leave the fallback.
			if cur.Provider == ProviderHybrid {
				cur = s.fallback()
			}
		case opReset:
			cur = s.fallback()
		case opState:
		}
		o.reply <- reply{state: cur, view: v}
	}
}

func (s *Selector) do(o op) reply {
	o.reply = make(chan reply, 1)
	s.ops <- o
	return <-o.reply
}

// SetToken applies a user token. A non-empty token activates hybrid tiles;
// an empty one reverts to the server default when present, otherwise to
// the offline/none fallback.
func (s *Selector) SetToken(token string) State {
	return s.do(op{kind: opSetToken, token: token}).state
}

// OnDatasetBounds reacts to a new buffered dataset extent. Hybrid with an
// active token fits and constrains the view; any other state ensures the
// fallback provider and fits without a constraint.
func (s *Selector) OnDatasetBounds(buffered geo.Bounds) (State, View) {
	r := s.do(op{kind: opBounds, bounds: buffered})
	return r.state, r.view
}

// OnTileLoadFailure downgrades hybrid tiles to the fallback provider.
func (s *Selector) OnTileLoadFailure() State {
	return s.do(op{kind: opTileFailure}).state
}

// Reset returns to the startup state, dropping any pan constraint.
func (s *Selector) Reset() State {
	return s.do(op{kind: opReset}).state
}

// State reports the current provider choice.
func (s *Selector) State() State {
	return s.do(op{kind: opState}).state
}
