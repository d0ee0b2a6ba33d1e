package dispatch

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antoniostano/aura/internal/observability"
	"github.com/antoniostano/aura/internal/protocol"
	"github.com/antoniostano/aura/internal/state"
)

type fakeControls struct {
	disconnects int
	micOn       []bool
	cameraOn    []bool
	transcript  []bool
}

func (f *fakeControls) Disconnect()             { f.disconnects++ }
func (f *fakeControls) SetMicOn(on bool) error  { f.micOn = append(f.micOn, on); return nil }
func (f *fakeControls) SetCameraOn(on bool) error {
	f.cameraOn = append(f.cameraOn, on)
	return nil
}
func (f *fakeControls) SetShowTranscript(show bool) { f.transcript = append(f.transcript, show) }

var testCounter atomic.Int64

func newTestDispatcher(t *testing.T) (*Dispatcher, *state.Store, *fakeControls) {
	t.Helper()
	ns := fmt.Sprintf("test_dispatch_%s_%d", time.Now().Format("150405"), testCounter.Add(1))
	metrics := observability.NewMetrics(ns)
	store := state.NewStore(state.MediaPerms{Mic: true, Camera: true})
	controls := &fakeControls{}
	return New(store, controls, metrics, observability.NewQualityWindow(8)), store, controls
}

func msg(t *testing.T, name protocol.MessageName, body string) protocol.Message {
	t.Helper()
	return protocol.Message{Name: name, Body: json.RawMessage(body)}
}

func TestFinalRecognitionAppendsUserEntry(t *testing.T) {
	d, store, _ := newTestDispatcher(t)

	d.HandleMessage(msg(t, protocol.NameRecognizeResults,
		`{"results":[{"final":false,"alternatives":[{"transcript":"hello th"}]}]}`))
	snap := store.Snapshot()
	if snap.IntermediateUserUtterance != "hello th" || !snap.UserSpeaking {
		t.Fatalf("intermediate not recorded: %+v", snap)
	}
	if len(snap.Transcript) != 0 {
		t.Fatalf("non-final result must not append")
	}

	d.HandleMessage(msg(t, protocol.NameRecognizeResults,
		`{"results":[{"final":true,"alternatives":[{"transcript":"hello there"}]}]}`))
	snap = store.Snapshot()
	if len(snap.Transcript) != 1 || snap.Transcript[0].Text != "hello there" {
		t.Fatalf("final result must append: %+v", snap.Transcript)
	}
	if snap.Transcript[0].Source != state.SourceUser {
		t.Fatalf("source = %q, want user", snap.Transcript[0].Source)
	}
	if snap.IntermediateUserUtterance != "" || snap.UserSpeaking {
		t.Fatalf("intermediate must clear on final: %+v", snap)
	}
}

func TestEmptyRecognitionDropped(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameRecognizeResults, `{"results":[]}`))
	snap := store.Snapshot()
	if len(snap.Transcript) != 0 || snap.UserSpeaking {
		t.Fatalf("empty recognition must be inert: %+v", snap)
	}
}

func TestPersonaResponseAppendsEntry(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NamePersonaResponse, `{"currentSpeech":"General Kenobi"}`))
	snap := store.Snapshot()
	if len(snap.Transcript) != 1 || snap.Transcript[0].Source != state.SourcePersona {
		t.Fatalf("persona entry not appended: %+v", snap.Transcript)
	}
	if snap.LastPersonaUtterance != "General Kenobi" {
		t.Fatalf("lastPersonaUtterance = %q", snap.LastPersonaUtterance)
	}
}

func TestActiveCardsShownAndRecorded(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	cards := []protocol.ContentCard{{ID: "c1", Kind: "options", Data: json.RawMessage(`{}`)}}
	d.HandleActiveCards(cards)

	snap := store.Snapshot()
	if len(snap.ActiveCards) != 1 || snap.ActiveCards[0].ID != "c1" {
		t.Fatalf("active cards = %+v", snap.ActiveCards)
	}
	if len(snap.Transcript) != 1 || snap.Transcript[0].Card == nil {
		t.Fatalf("card must land in the transcript: %+v", snap.Transcript)
	}
}

func TestIdleTurnBoundaryReplacesCards(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleActiveCards([]protocol.ContentCard{{ID: "old"}})

	// The persona finishes speaking; a later push belongs to a new turn.
	d.HandleMessage(msg(t, protocol.NameState, `{"persona":{"1":{"speechState":"speaking"}}}`))
	d.HandleMessage(msg(t, protocol.NameState, `{"persona":{"1":{"speechState":"idle"}}}`))
	d.HandleActiveCards([]protocol.ContentCard{{ID: "new"}})

	snap := store.Snapshot()
	if len(snap.ActiveCards) != 1 || snap.ActiveCards[0].ID != "new" {
		t.Fatalf("stale cards must be replaced: %+v", snap.ActiveCards)
	}
}

func TestSameTurnCardsAccumulate(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameState, `{"persona":{"1":{"speechState":"speaking"}}}`))
	d.HandleActiveCards([]protocol.ContentCard{{ID: "a"}})
	d.HandleActiveCards([]protocol.ContentCard{{ID: "b"}})

	snap := store.Snapshot()
	if len(snap.ActiveCards) != 2 {
		t.Fatalf("same-turn cards must accumulate: %+v", snap.ActiveCards)
	}
}

func TestUnknownKindInert(t *testing.T) {
	d, store, controls := newTestDispatcher(t)
	before := store.Snapshot()
	d.HandleMessage(msg(t, "somethingNew", `{"x":1}`))
	after := store.Snapshot()
	if len(after.Transcript) != len(before.Transcript) || controls.disconnects != 0 {
		t.Fatalf("unknown kind must have no effect")
	}
}

func TestKnownInertKindsHaveNoEffect(t *testing.T) {
	d, store, controls := newTestDispatcher(t)
	for _, name := range []protocol.MessageName{
		protocol.NameUpdateContentAwareness,
		protocol.NameConversationSend,
		protocol.NameActivation,
		protocol.NameAnimateToNamedCamera,
		protocol.NameStartRecognize,
		protocol.NameStopRecognize,
	} {
		d.HandleMessage(msg(t, name, `{}`))
	}
	snap := store.Snapshot()
	if len(snap.Transcript) != 0 || controls.disconnects != 0 {
		t.Fatalf("inert kinds must have no effect")
	}
}

func TestMalformedBodyDropped(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NamePersonaResponse, `"not an object"`))
	if len(store.Snapshot().Transcript) != 0 {
		t.Fatalf("malformed body must be dropped")
	}
	// The session keeps working afterwards.
	d.HandleMessage(msg(t, protocol.NamePersonaResponse, `{"currentSpeech":"still here"}`))
	if len(store.Snapshot().Transcript) != 1 {
		t.Fatalf("dispatcher must survive a malformed body")
	}
}

func TestFeatureMarkerCameraInverted(t *testing.T) {
	d, _, controls := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"feature","arguments":["camera","on"]}`))
	if len(controls.cameraOn) != 1 || controls.cameraOn[0] != false {
		t.Fatalf("camera 'on' reports the feature disabled; toggle = %+v", controls.cameraOn)
	}

	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"feature","arguments":["camera","off"]}`))
	if len(controls.cameraOn) != 2 || controls.cameraOn[1] != true {
		t.Fatalf("camera 'off' must enable; toggle = %+v", controls.cameraOn)
	}
}

func TestFeatureMarkerMicrophoneDirect(t *testing.T) {
	d, _, controls := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"feature","arguments":["microphone","off"]}`))
	if len(controls.micOn) != 1 || controls.micOn[0] != false {
		t.Fatalf("microphone toggle = %+v", controls.micOn)
	}
}

func TestFeatureMarkerTranscript(t *testing.T) {
	d, _, controls := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"feature","arguments":["transcript","on"]}`))
	if len(controls.transcript) != 1 || !controls.transcript[0] {
		t.Fatalf("transcript toggle = %+v", controls.transcript)
	}
}

func TestFeatureMarkerBadStateIgnored(t *testing.T) {
	d, _, controls := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"feature","arguments":["camera","sideways"]}`))
	if len(controls.cameraOn) != 0 {
		t.Fatalf("unsupported state must not toggle")
	}
}

func TestCloseMarkerDisconnects(t *testing.T) {
	d, _, controls := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameSpeechMarker, `{"name":"close","arguments":[]}`))
	if controls.disconnects != 1 {
		t.Fatalf("close marker must disconnect, got %d", controls.disconnects)
	}
}

func TestCustomMarkerInvoked(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	var got []string
	d.RegisterMarker("celebrate", func(args []string) { got = args })
	d.HandleMessage(msg(t, protocol.NameSpeechMarker,
		`{"name":"marker","arguments":["celebrate","now"]}`))
	if len(got) != 2 || got[0] != "celebrate" {
		t.Fatalf("marker handler args = %+v", got)
	}
}

func TestStateMessageUpdatesSignals(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	body := `{"persona":{"1":{"speechState":"speaking","users":[{
		"emotion":{"joy":0.87},
		"activity":{"talking":0.4567},
		"conversation":{"turn":"user","context":{"topic":0.33}}
	}]}}}`
	d.HandleMessage(msg(t, protocol.NameState, body))

	snap := store.Snapshot()
	if snap.SpeechState != protocol.SpeechStateSpeaking {
		t.Fatalf("speechState = %q", snap.SpeechState)
	}
	if snap.User.Emotion["joy"] != 0.8 {
		t.Fatalf("emotion joy = %v, want 0.8", snap.User.Emotion["joy"])
	}
	if snap.User.Activity["talking"] != 0.456 {
		t.Fatalf("activity talking = %v, want 0.456", snap.User.Activity["talking"])
	}
	if snap.User.Conversation.Turn != "user" || snap.User.Conversation.Context["topic"] != 0.3 {
		t.Fatalf("conversation = %+v", snap.User.Conversation)
	}
}

func TestStateMessageSuppressesJitter(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameState,
		`{"persona":{"1":{"users":[{"emotion":{"joy":0.51}}]}}}`))
	first := store.Snapshot().User.Emotion

	// Jitter below the rounding boundary must not produce a new map.
	d.HandleMessage(msg(t, protocol.NameState,
		`{"persona":{"1":{"users":[{"emotion":{"joy":0.53}}]}}}`))
	if got := store.Snapshot().User.Emotion["joy"]; got != first["joy"] {
		t.Fatalf("suppressed update changed state: %v", got)
	}

	d.HandleMessage(msg(t, protocol.NameState,
		`{"persona":{"1":{"users":[{"emotion":{"joy":0.61}}]}}}`))
	if got := store.Snapshot().User.Emotion["joy"]; got != 0.6 {
		t.Fatalf("boundary crossing must update, got %v", got)
	}
}

func TestConversationTurnChangeEmits(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	d.HandleMessage(msg(t, protocol.NameState,
		`{"persona":{"1":{"users":[{"conversation":{"turn":"user","context":{}}}]}}}`))
	d.HandleMessage(msg(t, protocol.NameState,
		`{"persona":{"1":{"users":[{"conversation":{"turn":"persona","context":{}}}]}}}`))
	if got := store.Snapshot().User.Conversation.Turn; got != "persona" {
		t.Fatalf("turn = %q, want persona", got)
	}
}

func TestStatisticsReplaceCallQuality(t *testing.T) {
	d, store, _ := newTestDispatcher(t)
	body := `{"statistics":{"callQuality":{
		"audio":{"bitrate":32000,"packetsLost":1,"roundTripTime":45},
		"video":{"bitrate":900000,"packetsLost":0,"roundTripTime":48}
	}}}`
	d.HandleMessage(msg(t, protocol.NameState, body))

	q := store.Snapshot().CallQuality
	if q.Audio.Bitrate != 32000 || q.Video.RoundTripTime != 48 {
		t.Fatalf("call quality = %+v", q)
	}
}
