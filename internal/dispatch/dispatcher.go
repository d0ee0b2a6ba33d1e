// Package dispatch classifies every inbound persona server message and routes
// it to a handler. Handlers only mutate application state or invoke narrow
// session controls; the dispatcher itself performs no network I/O.
package dispatch

import (
	"encoding/json"
	"log"

	"github.com/antoniostano/aura/internal/normalize"
	"github.com/antoniostano/aura/internal/observability"
	"github.com/antoniostano/aura/internal/protocol"
	"github.com/antoniostano/aura/internal/state"
)

// Controls are the session-affecting side effects a message may trigger. The
// lifecycle manager implements them; tests substitute a double.
type Controls interface {
	Disconnect()
	SetMicOn(on bool) error
	SetCameraOn(on bool) error
	SetShowTranscript(show bool)
}

// MarkerFunc is a custom @marker() side effect.
type MarkerFunc func(args []string)

// Dispatcher reconciles the inbound message stream into consistent state.
// All handling runs synchronously to completion per message; the scene read
// loop guarantees no two messages interleave for one session.
type Dispatcher struct {
	store    *state.Store
	controls Controls
	metrics  *observability.Metrics
	quality  *observability.QualityWindow

	emotionDet  *normalize.Detector
	activityDet *normalize.Detector
	contextDet  *normalize.Detector

	markers map[string]MarkerFunc
}

// Activity probabilities need three decimals to be useful; emotion and
// conversation context round to one.
const activityPrecision = 1000

func New(store *state.Store, controls Controls, metrics *observability.Metrics, quality *observability.QualityWindow) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		controls:    controls,
		metrics:     metrics,
		quality:     quality,
		emotionDet:  normalize.NewDetector(normalize.DefaultPrecision),
		activityDet: normalize.NewDetector(activityPrecision),
		contextDet:  normalize.NewDetector(normalize.DefaultPrecision),
		markers:     map[string]MarkerFunc{},
	}
	d.RegisterMarker("triggerMeatball", func([]string) {
		// Diagnostic easter egg kept from the original conversation deck.
		log.Printf("dispatch: meatball summoned\n%s", meatballArt)
	})
	return d
}

// RegisterMarker installs a named @marker() side effect.
func (d *Dispatcher) RegisterMarker(name string, fn MarkerFunc) {
	d.markers[name] = fn
}

// HandleMessage is total over known kinds; the default arm logs and takes no
// action so newer servers never break the client.
func (d *Dispatcher) HandleMessage(msg protocol.Message) {
	d.metrics.SceneMessages.WithLabelValues(string(msg.Name)).Inc()

	switch msg.Name {
	case protocol.NameRecognizeResults:
		d.handleRecognizeResults(msg.Body)

	case protocol.NamePersonaResponse:
		var body protocol.PersonaResponseBody
		if !d.decode(msg.Name, msg.Body, &body) {
			return
		}
		d.store.AppendEntry(state.SourcePersona, body.CurrentSpeech, nil)
		d.metrics.TranscriptEntries.WithLabelValues(string(state.SourcePersona)).Inc()

	case protocol.NameSpeechMarker:
		var body protocol.SpeechMarkerBody
		if !d.decode(msg.Name, msg.Body, &body) {
			return
		}
		d.handleSpeechMarker(body)

	case protocol.NameState:
		var body protocol.StateBody
		if !d.decode(msg.Name, msg.Body, &body) {
			return
		}
		d.handleState(body)

	case protocol.NameUpdateContentAwareness,
		protocol.NameConversationSend,
		protocol.NameActivation,
		protocol.NameAnimateToNamedCamera,
		protocol.NameStartRecognize,
		protocol.NameStopRecognize:
		// Known kinds with no client-side effect yet; matched explicitly so
		// they never trip the unknown-kind warning.

	default:
		d.metrics.UnknownMessages.Inc()
		log.Printf("dispatch: unknown message kind %q", msg.Name)
	}
}

// HandleActiveCards receives the resolved active-card set from the dedicated
// content-card channel. Cards are both shown (active set, staleness law) and
// recorded (first card appended as a persona transcript turn).
func (d *Dispatcher) HandleActiveCards(cards []protocol.ContentCard) {
	d.metrics.SceneMessages.WithLabelValues(string(protocol.NameActiveCards)).Inc()
	d.store.PushCards(cards)
	if len(cards) > 0 {
		d.store.AppendEntry(state.SourcePersona, "", &cards[0])
		d.metrics.TranscriptEntries.WithLabelValues(string(state.SourcePersona)).Inc()
	}
}

func (d *Dispatcher) handleRecognizeResults(body json.RawMessage) {
	var results protocol.RecognizeResultsBody
	if !d.decode(protocol.NameRecognizeResults, body, &results) {
		return
	}
	// The service occasionally emits empty frames; drop them defensively.
	text, final, ok := results.BestTranscript()
	if !ok {
		log.Printf("dispatch: recognizeResults with no output, ignoring")
		return
	}
	if !final {
		d.store.SetIntermediateUtterance(text)
		return
	}
	d.store.AppendEntry(state.SourceUser, text, nil)
	d.metrics.TranscriptEntries.WithLabelValues(string(state.SourceUser)).Inc()
}

func (d *Dispatcher) handleSpeechMarker(body protocol.SpeechMarkerBody) {
	switch body.Name {
	case protocol.MarkerCinematic:
		// Fired when the server-side cinematographer cuts camera angles.

	case protocol.MarkerFeature:
		if len(body.Arguments) < 2 {
			log.Printf("dispatch: @feature marker missing arguments: %v", body.Arguments)
			return
		}
		d.handleFeature(body.Arguments[0], body.Arguments[1])

	case protocol.MarkerClose:
		d.controls.Disconnect()

	case protocol.MarkerMarker:
		for _, arg := range body.Arguments {
			fn, ok := d.markers[arg]
			if !ok {
				log.Printf("dispatch: no handler for @marker(%s)", arg)
				continue
			}
			fn(body.Arguments)
		}

	default:
		log.Printf("dispatch: unrecognized speech marker %q", body.Name)
	}
}

func (d *Dispatcher) handleFeature(feature, featureState string) {
	on, ok := featureStateOn(featureState)
	if !ok {
		log.Printf("dispatch: state %q not supported by @feature(%s)", featureState, feature)
		return
	}
	switch feature {
	case "camera":
		// The service reports whether the camera *feature* is disabled, so
		// the toggle is inverted.
		if err := d.controls.SetCameraOn(!on); err != nil {
			log.Printf("dispatch: @feature(camera) toggle failed: %v", err)
		}
	case "microphone":
		if err := d.controls.SetMicOn(on); err != nil {
			log.Printf("dispatch: @feature(microphone) toggle failed: %v", err)
		}
	case "transcript":
		d.controls.SetShowTranscript(on)
	default:
		log.Printf("dispatch: @feature(%s) not recognized", feature)
	}
}

func featureStateOn(featureState string) (on, ok bool) {
	switch featureState {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}

func (d *Dispatcher) handleState(body protocol.StateBody) {
	for _, personaState := range body.Persona {
		if personaState.SpeechState != "" {
			d.store.SetSpeechState(personaState.SpeechState)
		}
		if len(personaState.Users) > 0 {
			d.handleUserState(personaState.Users[0])
		}
	}
	if body.Statistics != nil {
		q := body.Statistics.CallQuality
		d.store.SetCallQuality(q)
		d.metrics.ObserveCallQuality("audio", q.Audio.Bitrate, q.Audio.PacketsLost, q.Audio.RoundTripTime)
		d.metrics.ObserveCallQuality("video", q.Video.Bitrate, q.Video.PacketsLost, q.Video.RoundTripTime)
		if d.quality != nil {
			d.quality.Observe(q)
		}
	}
}

func (d *Dispatcher) handleUserState(user protocol.UserState) {
	if user.Emotion != nil {
		if rounded, changed := d.emotionDet.Observe(user.Emotion); changed {
			d.store.SetEmotion(rounded)
			d.metrics.SignalUpdates.WithLabelValues("emotion").Inc()
		} else {
			d.metrics.SignalsSuppressed.WithLabelValues("emotion").Inc()
		}
	}
	if user.Activity != nil {
		if rounded, changed := d.activityDet.Observe(user.Activity); changed {
			d.store.SetActivity(rounded)
			d.metrics.SignalUpdates.WithLabelValues("activity").Inc()
		} else {
			d.metrics.SignalsSuppressed.WithLabelValues("activity").Inc()
		}
	}
	if user.Conversation != nil {
		rounded, changed := d.contextDet.Observe(user.Conversation.Context)
		snap := d.store.Snapshot()
		if changed || user.Conversation.Turn != snap.User.Conversation.Turn {
			d.store.SetConversation(user.Conversation.Turn, rounded)
			d.metrics.SignalUpdates.WithLabelValues("conversation").Inc()
		} else {
			d.metrics.SignalsSuppressed.WithLabelValues("conversation").Inc()
		}
	}
}

// decode unmarshals a known-kind body; malformed payloads are logged and the
// single update dropped without aborting the session.
func (d *Dispatcher) decode(name protocol.MessageName, body json.RawMessage, out any) bool {
	if err := json.Unmarshal(body, out); err != nil {
		d.metrics.MalformedPayloads.WithLabelValues(string(name)).Inc()
		log.Printf("dispatch: dropping malformed %s body: %v", name, err)
		return false
	}
	return true
}

const meatballArt = `
      .-""""-.
     / -   -  \
    |  .-. .- |
    |  \o| |o (
    \     ^    \
     '.  )--'  /
       '-...-'
`
