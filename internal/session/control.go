package session

import (
	"fmt"
	"time"

	"firestige.xyz/udpin/internal/core"
)

// Query is a capability query answered by Control.
type Query int

const (
	QueryCanSeek        Query = iota // whether the stream can seek
	QueryCanFastSeek                 // whether seeking can skip to keyframes
	QueryCanPause                    // whether the stream can be paused
	QueryCanControlPace              // whether the consumer may pace the source
	QueryPTSDelay                    // playback delay, the configured caching
)

func (q Query) String() string {
	switch q {
	case QueryCanSeek:
		return "can_seek"
	case QueryCanFastSeek:
		return "can_fast_seek"
	case QueryCanPause:
		return "can_pause"
	case QueryCanControlPace:
		return "can_control_pace"
	case QueryPTSDelay:
		return "pts_delay"
	default:
		return fmt.Sprintf("query(%d)", int(q))
	}
}

// Control answers a capability query. A live datagram stream cannot seek,
// pause or be paced; PTSDelay is the configured caching.
func (s *Session) Control(q Query) (any, error) {
	switch q {
	case QueryCanSeek, QueryCanFastSeek, QueryCanPause, QueryCanControlPace:
		return false, nil
	case QueryPTSDelay:
		return s.cfg.Caching, nil
	default:
		return nil, fmt.Errorf("%s: %w", q, core.ErrUnsupportedQuery)
	}
}

// Capabilities is a snapshot of every Control answer.
type Capabilities struct {
	CanSeek        bool          `json:"can_seek"`
	CanFastSeek    bool          `json:"can_fast_seek"`
	CanPause       bool          `json:"can_pause"`
	CanControlPace bool          `json:"can_control_pace"`
	PTSDelay       time.Duration `json:"pts_delay"`
}

// Capabilities returns the answers to all known queries.
func (s *Session) Capabilities() Capabilities {
	return Capabilities{
		CanSeek:        s.flag(QueryCanSeek),
		CanFastSeek:    s.flag(QueryCanFastSeek),
		CanPause:       s.flag(QueryCanPause),
		CanControlPace: s.flag(QueryCanControlPace),
		PTSDelay:       s.cfg.Caching,
	}
}

func (s *Session) flag(q Query) bool {
	v, _ := s.Control(q)
	b, _ := v.(bool)
	return b
}
