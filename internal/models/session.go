package models

import (
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Vote is one member's vote as it appears on the wire. Value is nil while the
// round is unrevealed, so clients can render a "has voted" placeholder without
// seeing the real value.
type Vote struct {
	User  string  `json:"user"`
	Value *string `json:"value"`
}

// memberVote is the stored form of a vote, kept in cast order.
type memberVote struct {
	user  string
	value string
}

// Tally holds the votes and reveal flag for one estimation round.
type Tally struct {
	votes    []memberVote
	revealed bool
}

// Story is an estimable work item with its own tally.
type Story struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`

	tally Tally
}

// HistoryEntry records the outcome of one revealed round.
type HistoryEntry struct {
	Title   string  `json:"title"`
	Average float64 `json:"average"`
}

// UpdatePayload is the wire form of a tally. While the round is unrevealed
// every vote is present but its value is masked (nil).
type UpdatePayload struct {
	Votes    []Vote `json:"votes"`
	Revealed bool   `json:"revealed"`
}

// Session is an isolated estimation workspace: its members, stories, the
// currently selected story and the history of revealed rounds. All mutable
// state is guarded by mu; mutations are short critical sections and the
// broadcast payload is built before the lock is released.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu           sync.Mutex
	members      map[string]struct{}
	stories      []*Story
	selected     uuid.UUID // uuid.Nil when nothing is selected
	history      []HistoryEntry
	defaultTally Tally // receives votes while no story is selected
	lastActive   time.Time
}

// NewSession creates an empty session with a fresh id.
func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:         uuid.New(),
		CreatedAt:  now,
		members:    make(map[string]struct{}),
		lastActive: now,
	}
}

// currentTally returns the selected story's tally, or the session's default
// tally while nothing is selected. Callers must hold mu.
func (s *Session) currentTally() *Tally {
	if st := s.findStory(s.selected); st != nil {
		return &st.tally
	}
	return &s.defaultTally
}

// findStory returns the story with the given id, or nil. Callers must hold mu.
func (s *Session) findStory(id uuid.UUID) *Story {
	if id == uuid.Nil {
		return nil
	}
	for _, st := range s.stories {
		if st.ID == id {
			return st
		}
	}
	return nil
}

// AddMember registers a connection as a session member.
func (s *Session) AddMember(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[connID] = struct{}{}
	s.lastActive = time.Now()
}

// RemoveMember drops a member and their vote in the current round. The reveal
// flag is left untouched: a disconnect must not hide an already revealed
// round from the remaining members. Returns the resulting update payload.
func (s *Session) RemoveMember(connID string) UpdatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, connID)
	t := s.currentTally()
	t.remove(connID)
	s.lastActive = time.Now()
	return t.payload()
}

// MemberCount returns the number of live members.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// CastVote upserts the member's vote in the current round, last write wins.
// Voting is permitted even after reveal.
func (s *Session) CastVote(connID, value string) UpdatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.currentTally()
	t.upsert(connID, value)
	s.lastActive = time.Now()
	return t.payload()
}

// Reveal exposes every vote in the current round. When a story is selected
// the round's numeric average is appended to the session history; the second
// return value reports whether that happened.
func (s *Session) Reveal() (UpdatePayload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.currentTally()
	t.revealed = true
	historyChanged := false
	if st := s.findStory(s.selected); st != nil {
		s.history = append(s.history, HistoryEntry{Title: st.Title, Average: t.average()})
		historyChanged = true
	}
	s.lastActive = time.Now()
	return t.payload(), historyChanged
}

// ResetVote removes only the given member's vote. The reveal flag is never
// changed here; only ResetAll closes a revealed round.
func (s *Session) ResetVote(connID string) UpdatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.currentTally()
	t.remove(connID)
	s.lastActive = time.Now()
	return t.payload()
}

// ResetAll clears every vote and returns the round to its unrevealed state.
func (s *Session) ResetAll() UpdatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.currentTally()
	t.votes = nil
	t.revealed = false
	s.lastActive = time.Now()
	return t.payload()
}

// AddStory appends a story with an empty tally. Titles are unique per session,
// compared case-insensitively.
func (s *Session) AddStory(title, description string) (Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	title = strings.TrimSpace(title)
	if title == "" {
		return Story{}, ErrEmptyTitle
	}
	for _, st := range s.stories {
		if strings.EqualFold(st.Title, title) {
			return Story{}, ErrDuplicateTitle
		}
	}
	st := &Story{ID: uuid.New(), Title: title, Description: description}
	s.stories = append(s.stories, st)
	s.lastActive = time.Now()
	return *st, nil
}

// DeleteStory removes a story. Deleting the selected story clears the
// selection; the first return value reports whether it did.
func (s *Session) DeleteStory(id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, st := range s.stories {
		if st.ID == id {
			s.stories = append(s.stories[:i], s.stories[i+1:]...)
			cleared := false
			if s.selected == id {
				s.selected = uuid.Nil
				cleared = true
			}
			s.lastActive = time.Now()
			return cleared, nil
		}
	}
	return false, ErrStoryNotFound
}

// SelectStory sets the current story. The id must belong to this session.
// Returns the newly current tally so clients can swap their vote display.
func (s *Session) SelectStory(id uuid.UUID) (UpdatePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findStory(id) == nil {
		return UpdatePayload{}, ErrStoryNotFound
	}
	s.selected = id
	s.lastActive = time.Now()
	return s.currentTally().payload(), nil
}

// Stories returns a copy of the story list in insertion order.
func (s *Session) Stories() []Story {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Story, len(s.stories))
	for i, st := range s.stories {
		out[i] = *st
	}
	return out
}

// SelectedStoryID returns the selected story id, or nil.
func (s *Session) SelectedStoryID() *uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == uuid.Nil {
		return nil
	}
	id := s.selected
	return &id
}

// History returns a copy of the revealed-round history.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

// TallyPayload returns the current round's wire state.
func (s *Session) TallyPayload() UpdatePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTally().payload()
}

// LastActive reports the time of the last mutation, used for idle eviction.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (t *Tally) upsert(user, value string) {
	for i := range t.votes {
		if t.votes[i].user == user {
			t.votes[i].value = value
			return
		}
	}
	t.votes = append(t.votes, memberVote{user: user, value: value})
}

func (t *Tally) remove(user string) {
	for i := range t.votes {
		if t.votes[i].user == user {
			t.votes = append(t.votes[:i], t.votes[i+1:]...)
			return
		}
	}
}

func (t *Tally) payload() UpdatePayload {
	votes := make([]Vote, 0, len(t.votes))
	for _, v := range t.votes {
		vote := Vote{User: v.user}
		if t.revealed {
			val := v.value
			vote.Value = &val
		}
		votes = append(votes, vote)
	}
	return UpdatePayload{Votes: votes, Revealed: t.revealed}
}

// average computes the mean of the parseable numeric votes, rounded to two
// decimals. Tokens like "?" or "coffee" are excluded; all-non-numeric rounds
// average to 0.
func (t *Tally) average() float64 {
	var sum float64
	var n int
	for _, v := range t.votes {
		if f, err := strconv.ParseFloat(v.value, 64); err == nil {
			sum += f
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*100) / 100
}
