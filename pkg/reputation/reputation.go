// Package reputation tracks per-peer reputation scores and the disputes
// that can drive them down sharply. Scores move only through typed events
// emitted at engine phase boundaries (spec section 4.4); this package never
// reaches into the engine or treasury to decide anything for itself.
package reputation

import (
	"container/ring"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/rawblock/diceconsensus/pkg/party"
)

var log = slog.Disabled

// UseLogger assigns a logging backend for this package's diagnostics.
func UseLogger(logger slog.Logger) {
	log = logger
}

// EventKind enumerates the reputation-affecting events the engine emits at
// phase boundaries.
type EventKind int

const (
	CompletedRound EventKind = iota
	FailedCommit
	FailedReveal
	InvalidReveal
	VotedAgainstAccepted
	Cheating
)

func (k EventKind) String() string {
	switch k {
	case CompletedRound:
		return "completed-round"
	case FailedCommit:
		return "failed-commit"
	case FailedReveal:
		return "failed-reveal"
	case InvalidReveal:
		return "invalid-reveal"
	case VotedAgainstAccepted:
		return "voted-against-accepted"
	case Cheating:
		return "cheating"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// defaultDeltas gives each event kind its score adjustment. InvalidReveal is
// penalized more heavily than silently withholding a reveal (FailedReveal),
// matching spec section 4.5's explicit ordering; Cheating is the harshest.
var defaultDeltas = map[EventKind]float64{
	CompletedRound:       +1.0,
	FailedCommit:         -1.0,
	FailedReveal:         -2.0,
	InvalidReveal:        -5.0,
	VotedAgainstAccepted: -0.5,
	Cheating:             -25.0,
}

// Event is one reputation-affecting occurrence, logged in a peer's ring
// buffer for later audit/dispute evidence.
type Event struct {
	Kind  EventKind
	Round uint64
	At    time.Time
	Delta float64
}

const eventLogSize = 64

// Config bounds and thresholds governing reputation scores.
type Config struct {
	Min            float64
	Max            float64
	Initial        float64
	ParticipateMin float64
	VoteMin        float64
	BanThreshold   float64
	Deltas         map[EventKind]float64
}

// DefaultConfig returns sensible bounds for a small-roster dice game.
func DefaultConfig() Config {
	return Config{
		Min:            0,
		Max:            100,
		Initial:        50,
		ParticipateMin: 10,
		VoteMin:        20,
		BanThreshold:   0,
		Deltas:         defaultDeltas,
	}
}

type record struct {
	score float64
	log   *ring.Ring
}

// Reputation owns every peer's score and event history. It is the
// exclusive owner of this state (spec: "The reputation module exclusively
// owns scores").
type Reputation struct {
	mu      sync.Mutex
	cfg     Config
	records map[party.ID]*record
}

// New creates an empty reputation store using cfg's bounds and deltas.
func New(cfg Config) *Reputation {
	if cfg.Deltas == nil {
		cfg.Deltas = defaultDeltas
	}
	return &Reputation{cfg: cfg, records: make(map[party.ID]*record)}
}

func (r *Reputation) recordFor(peer party.ID) *record {
	rec, ok := r.records[peer]
	if !ok {
		rec = &record{score: r.cfg.Initial, log: ring.New(eventLogSize)}
		r.records[peer] = rec
	}
	return rec
}

// Apply records a reputation event for peer, clamping the resulting score
// to [Min, Max].
func (r *Reputation) Apply(peer party.ID, kind EventKind, round uint64, at time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.recordFor(peer)
	delta := r.cfg.Deltas[kind]
	rec.score += delta
	if rec.score > r.cfg.Max {
		rec.score = r.cfg.Max
	}
	if rec.score < r.cfg.Min {
		rec.score = r.cfg.Min
	}
	rec.log.Value = Event{Kind: kind, Round: round, At: at, Delta: delta}
	rec.log = rec.log.Next()
	log.Debugf("reputation: peer %s event %s round %d -> score %.1f", peer, kind, round, rec.score)
	return rec.score
}

// Score returns peer's current reputation score, or the configured initial
// score if peer has never had an event applied.
func (r *Reputation) Score(peer party.ID) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[peer]
	if !ok {
		return r.cfg.Initial
	}
	return rec.score
}

// MayParticipate reports whether peer's score is at or above the
// participation floor.
func (r *Reputation) MayParticipate(peer party.ID) bool {
	return r.Score(peer) >= r.cfg.ParticipateMin
}

// MayVoteOnDispute reports whether peer's score clears the (higher) bar
// required to vote on a dispute (spec: "Only peers whose reputation exceeds
// a voting threshold may vote").
func (r *Reputation) MayVoteOnDispute(peer party.ID) bool {
	return r.Score(peer) > r.cfg.VoteMin
}

// History returns peer's recent events, oldest first.
func (r *Reputation) History(peer party.ID) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[peer]
	if !ok {
		return nil
	}
	events := make([]Event, 0, eventLogSize)
	rec.log.Do(func(v interface{}) {
		if v == nil {
			return
		}
		events = append(events, v.(Event))
	})
	return events
}
