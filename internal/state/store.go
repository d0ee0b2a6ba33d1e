package state

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/antoniostano/aura/internal/protocol"
)

// Store holds the session-scoped application state behind a mutex. All reads
// go through Snapshot, which deep-clones, so callers can never mutate tracked
// state. Writers fan a change signal out to every subscriber.
type Store struct {
	mu    sync.RWMutex
	state State
	now   func() time.Time

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

func NewStore(perms MediaPerms) *Store {
	return &Store{
		state: initialState(perms),
		now:   time.Now,
		subs:  map[int]chan struct{}{},
	}
}

// Subscribe registers a change listener. The channel receives at least one
// signal after any state mutation; signals coalesce per subscriber, so
// consumers re-read Snapshot on receive. Each subscriber has its own channel
// and must call cancel when done.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()
	cancel := func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) notify() {
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	s.subMu.Unlock()
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneState(s.state)
}

func (s *Store) update(fn func(*State)) {
	s.mu.Lock()
	fn(&s.state)
	s.mu.Unlock()
	s.notify()
}

// AppendEntry appends a transcript entry. Entries with neither text nor a
// card are dropped with a warning. Appending clears the intermediate
// utterance buffer and the user-speaking flag, and updates the per-source
// last-utterance field when text is present.
func (s *Store) AppendEntry(source Source, text string, card *protocol.ContentCard) {
	if text == "" && card == nil {
		log.Printf("state: ignoring empty transcript entry from %s", source)
		return
	}
	entry := TranscriptEntry{
		ID:        uuid.NewString(),
		Source:    source,
		Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		Text:      text,
	}
	if card != nil {
		c := *card
		entry.Card = &c
	}
	s.update(func(st *State) {
		st.Transcript = append(st.Transcript, entry)
		st.IntermediateUserUtterance = ""
		st.UserSpeaking = false
		if text != "" {
			if source == SourceUser {
				st.LastUserUtterance = text
			} else {
				st.LastPersonaUtterance = text
			}
		}
	})
}

// SetIntermediateUtterance records a not-yet-final recognition result and
// marks the user as speaking. Superseded by the next call or by AppendEntry.
func (s *Store) SetIntermediateUtterance(text string) {
	s.update(func(st *State) {
		st.IntermediateUserUtterance = text
		st.UserSpeaking = true
	})
}

// SetActiveCards replaces the active set and staleness flag.
func (s *Store) SetActiveCards(cards []protocol.ContentCard, stale bool) {
	s.update(func(st *State) {
		st.ActiveCards = append([]protocol.ContentCard(nil), cards...)
		st.CardsStale = stale
	})
}

// PushCards applies the staleness law: a stale active set is replaced by the
// incoming cards, a non-stale set is appended to. Either way the result is
// not stale.
func (s *Store) PushCards(cards []protocol.ContentCard) {
	s.update(func(st *State) {
		if st.CardsStale {
			st.ActiveCards = append([]protocol.ContentCard(nil), cards...)
		} else {
			st.ActiveCards = append(st.ActiveCards, cards...)
		}
		st.CardsStale = false
	})
}

// MarkActiveCardsStale flags the current set as belonging to a finished turn
// without altering its content or order.
func (s *Store) MarkActiveCardsStale() {
	s.update(func(st *State) {
		st.CardsStale = true
	})
}

// ClearActiveCards empties the active set and resets staleness.
func (s *Store) ClearActiveCards() {
	s.update(func(st *State) {
		st.ActiveCards = nil
		st.CardsStale = false
	})
}

// SetSpeechState records the persona speech state. Transitioning to idle
// marks the active cards stale so the next push replaces them.
func (s *Store) SetSpeechState(speechState string) {
	s.update(func(st *State) {
		if speechState == protocol.SpeechStateIdle && st.SpeechState != protocol.SpeechStateIdle {
			st.CardsStale = true
		}
		st.SpeechState = speechState
	})
}

func (s *Store) SetEmotion(emotion map[string]float64) {
	s.update(func(st *State) {
		st.User.Emotion = emotion
	})
}

func (s *Store) SetActivity(activity map[string]float64) {
	s.update(func(st *State) {
		st.User.Activity = activity
	})
}

func (s *Store) SetConversation(turn string, context map[string]float64) {
	s.update(func(st *State) {
		st.User.Conversation = Conversation{Turn: turn, Context: context}
	})
}

func (s *Store) SetCallQuality(q protocol.CallQuality) {
	s.update(func(st *State) {
		st.CallQuality = q
	})
}

func (s *Store) SetConnecting() {
	s.update(func(st *State) {
		st.Connecting = true
		st.Disconnected = false
		st.Error = nil
	})
}

func (s *Store) SetConnected() {
	s.update(func(st *State) {
		st.Connecting = false
		st.Connected = true
		st.Error = nil
	})
}

func (s *Store) SetConnectError(kind, detail string) {
	s.update(func(st *State) {
		st.Connecting = false
		st.Connected = false
		st.Error = &ErrorInfo{Kind: kind, Detail: detail}
	})
}

func (s *Store) SetMicOn(on bool) {
	s.update(func(st *State) { st.MicOn = on })
}

func (s *Store) SetCameraOn(on bool) {
	s.update(func(st *State) { st.CameraOn = on })
}

func (s *Store) SetOutputMuted(muted bool) {
	s.update(func(st *State) { st.OutputMuted = muted })
}

func (s *Store) SetVideoDimensions(width, height int) {
	s.update(func(st *State) {
		st.VideoWidth = width
		st.VideoHeight = height
	})
}

func (s *Store) SetCameraDimensions(width, height int) {
	s.update(func(st *State) {
		st.CameraWidth = width
		st.CameraHeight = height
	})
}

func (s *Store) SetShowTranscript(show bool) {
	s.update(func(st *State) { st.ShowTranscript = show })
}

func (s *Store) ToggleShowTranscript() {
	s.update(func(st *State) { st.ShowTranscript = !st.ShowTranscript })
}

func (s *Store) SetRequestedMediaPerms(perms MediaPerms) {
	s.update(func(st *State) { st.RequestedMediaPerms = perms })
}

// ResetForDisconnect restores the initial state except for the last error and
// the persisted media-permission intent, then flags the state as disconnected
// (distinct from never-connected, so the UI can tell "user left" from a
// fresh load).
func (s *Store) ResetForDisconnect() {
	s.update(func(st *State) {
		err := st.Error
		perms := st.RequestedMediaPerms
		*st = initialState(perms)
		st.Error = err
		st.Disconnected = true
	})
}

func cloneState(st State) State {
	out := st
	if st.Error != nil {
		e := *st.Error
		out.Error = &e
	}
	out.Transcript = make([]TranscriptEntry, len(st.Transcript))
	for i, entry := range st.Transcript {
		out.Transcript[i] = entry
		if entry.Card != nil {
			c := *entry.Card
			out.Transcript[i].Card = &c
		}
	}
	out.ActiveCards = append([]protocol.ContentCard(nil), st.ActiveCards...)
	out.User = UserSignals{
		Emotion:  cloneFloatMap(st.User.Emotion),
		Activity: cloneFloatMap(st.User.Activity),
		Conversation: Conversation{
			Turn:    st.User.Conversation.Turn,
			Context: cloneFloatMap(st.User.Conversation.Context),
		},
	}
	return out
}

func cloneFloatMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
