package state

import (
	"github.com/antoniostano/aura/internal/protocol"
)

// Source identifies which side of the conversation produced a transcript entry.
type Source string

const (
	SourceUser    Source = "user"
	SourcePersona Source = "persona"
)

// TranscriptEntry is one ordered, immutable conversational turn. Exactly one
// of Text or Card is meaningful.
type TranscriptEntry struct {
	ID        string                `json:"id"`
	Source    Source                `json:"source"`
	Timestamp string                `json:"timestamp"`
	Text      string                `json:"text,omitempty"`
	Card      *protocol.ContentCard `json:"card,omitempty"`
}

// ErrorInfo is a classified connection error kept visible after teardown.
type ErrorInfo struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// MediaPerms is the user-level intent for device access, persisted across
// runs. Distinct from the live MicOn/CameraOn toggles.
type MediaPerms struct {
	Mic    bool `json:"mic"`
	Camera bool `json:"camera"`
}

// UserSignals aggregates the persona server's observations about the user.
type UserSignals struct {
	Emotion      map[string]float64 `json:"emotion"`
	Activity     map[string]float64 `json:"activity"`
	Conversation Conversation       `json:"conversation"`
}

type Conversation struct {
	Turn    string             `json:"turn"`
	Context map[string]float64 `json:"context"`
}

// State is one immutable snapshot of session-scoped application state.
type State struct {
	RequestedMediaPerms MediaPerms `json:"requestedMediaPerms"`

	Connecting   bool       `json:"connecting"`
	Connected    bool       `json:"connected"`
	Disconnected bool       `json:"disconnected"`
	Error        *ErrorInfo `json:"error,omitempty"`

	MicOn       bool `json:"micOn"`
	CameraOn    bool `json:"cameraOn"`
	OutputMuted bool `json:"outputMuted"`

	VideoWidth  int `json:"videoWidth"`
	VideoHeight int `json:"videoHeight"`
	// Camera frame dims feed an aspect ratio; 1x1 degrades to a square when
	// the camera is off.
	CameraWidth  int `json:"cameraWidth"`
	CameraHeight int `json:"cameraHeight"`

	Transcript  []TranscriptEntry      `json:"transcript"`
	ActiveCards []protocol.ContentCard `json:"activeCards"`
	CardsStale  bool                   `json:"cardsStale"`

	SpeechState               string `json:"speechState"`
	IntermediateUserUtterance string `json:"intermediateUserUtterance"`
	UserSpeaking              bool   `json:"userSpeaking"`
	LastUserUtterance         string `json:"lastUserUtterance"`
	LastPersonaUtterance      string `json:"lastPersonaUtterance"`

	User        UserSignals          `json:"user"`
	CallQuality protocol.CallQuality `json:"callQuality"`

	ShowTranscript bool `json:"showTranscript"`
}

func initialState(perms MediaPerms) State {
	return State{
		RequestedMediaPerms: perms,
		MicOn:               true,
		CameraOn:            true,
		VideoWidth:          1,
		VideoHeight:         1,
		CameraWidth:         1,
		CameraHeight:        1,
		SpeechState:         protocol.SpeechStateIdle,
		User: UserSignals{
			Emotion:  map[string]float64{},
			Activity: map[string]float64{},
			Conversation: Conversation{
				Context: map[string]float64{},
			},
		},
	}
}
