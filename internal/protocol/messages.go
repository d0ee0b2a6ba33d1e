package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageName identifies persona server payload variants.
type MessageName string

const (
	NameRecognizeResults       MessageName = "recognizeResults"
	NamePersonaResponse        MessageName = "personaResponse"
	NameSpeechMarker           MessageName = "speechMarker"
	NameState                  MessageName = "state"
	NameActiveCards            MessageName = "activeCards"
	NameUpdateContentAwareness MessageName = "updateContentAwareness"
	NameConversationSend       MessageName = "conversationSend"
	NameActivation             MessageName = "activation"
	NameAnimateToNamedCamera   MessageName = "animateToNamedCamera"
	NameStartRecognize         MessageName = "startRecognize"
	NameStopRecognize          MessageName = "stopRecognize"
)

// Speech marker names embedded in persona speech output.
const (
	MarkerFeature   = "feature"
	MarkerClose     = "close"
	MarkerMarker    = "marker"
	MarkerCinematic = "cinematic"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is the wire envelope: a kind plus a kind-specific body. Unknown
// names are carried through untouched so the dispatcher's default arm can
// log-and-ignore them (forward compatibility with newer servers).
type Message struct {
	Name MessageName     `json:"name"`
	Body json.RawMessage `json:"body"`
}

// Parse decodes one raw frame into the envelope.
func Parse(raw []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid envelope: %w", err)
	}
	if msg.Name == "" {
		return Message{}, fmt.Errorf("%w: missing name", ErrMalformedMessage)
	}
	return msg, nil
}

// RecognizeResultsBody carries streaming speech-recognition output.
type RecognizeResultsBody struct {
	Results []RecognizeResult `json:"results"`
}

type RecognizeResult struct {
	Final        bool                   `json:"final"`
	Alternatives []RecognizeAlternative `json:"alternatives"`
}

type RecognizeAlternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// BestTranscript returns the top alternative of the first result, if any.
func (b RecognizeResultsBody) BestTranscript() (text string, final bool, ok bool) {
	if len(b.Results) == 0 || len(b.Results[0].Alternatives) == 0 {
		return "", false, false
	}
	return b.Results[0].Alternatives[0].Transcript, b.Results[0].Final, true
}

// PersonaResponseBody carries the persona's current spoken text.
type PersonaResponseBody struct {
	CurrentSpeech string `json:"currentSpeech"`
}

// SpeechMarkerBody is an inline directive embedded in persona speech.
type SpeechMarkerBody struct {
	Name      string   `json:"name"`
	Arguments []string `json:"arguments"`
}

// StateBody is the composite state/telemetry message. Persona sub-state is
// keyed by persona id; statistics may arrive alone.
type StateBody struct {
	Persona    map[string]PersonaState `json:"persona,omitempty"`
	Statistics *StatisticsBody         `json:"statistics,omitempty"`
}

// Persona speech states.
const (
	SpeechStateIdle      = "idle"
	SpeechStateAnimating = "animating"
	SpeechStateSpeaking  = "speaking"
)

type PersonaState struct {
	SpeechState string      `json:"speechState,omitempty"`
	Users       []UserState `json:"users,omitempty"`
}

type UserState struct {
	Emotion      map[string]float64 `json:"emotion,omitempty"`
	Activity     map[string]float64 `json:"activity,omitempty"`
	Conversation *ConversationState `json:"conversation,omitempty"`
}

type ConversationState struct {
	Turn    string             `json:"turn"`
	Context map[string]float64 `json:"context"`
}

type StatisticsBody struct {
	CallQuality CallQuality `json:"callQuality"`
}

// CallQuality is replaced wholesale on each telemetry message.
type CallQuality struct {
	Audio MediaQuality `json:"audio"`
	Video MediaQuality `json:"video"`
}

type MediaQuality struct {
	Bitrate       float64 `json:"bitrate"`
	PacketsLost   float64 `json:"packetsLost"`
	RoundTripTime float64 `json:"roundTripTime"`
}

// ContentCard is a ready-to-render payload pushed over the content-card
// channel. Data is opaque to this process; the UI's renderer for Kind owns it.
type ContentCard struct {
	ID   string          `json:"id"`
	Kind string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ActiveCardsBody is the content-card channel event: the resolved active set.
type ActiveCardsBody struct {
	ActiveCards []ContentCard `json:"activeCards"`
}
