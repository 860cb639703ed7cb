package channel

import "time"

// EventKind names a capability event.
type EventKind string

const (
	EventLinkingArtifact EventKind = "linking-artifact"
	EventOpen            EventKind = "open"
	EventClose           EventKind = "close"
	EventCredsUpdated    EventKind = "creds-updated"
	EventMessage         EventKind = "message"
	EventPresence        EventKind = "presence"
	EventGroupsUpdate    EventKind = "groups-update"
)

// CloseReason is the status code attached to a close event. The values
// follow the network's HTTP-like disconnect codes.
type CloseReason int

const (
	ReasonUnknown           CloseReason = 0
	ReasonLoggedOut         CloseReason = 401
	ReasonForbidden         CloseReason = 403
	ReasonConnectionLost    CloseReason = 408
	ReasonMultideviceBroken CloseReason = 411
	ReasonConnectionClosed  CloseReason = 428
	ReasonReplaced          CloseReason = 440
	ReasonBadSession        CloseReason = 500
	ReasonUnavailable       CloseReason = 503
	ReasonRestartRequired   CloseReason = 515
)

// ReasonTimedOut shares the code of ReasonConnectionLost.
const ReasonTimedOut = ReasonConnectionLost

// Terminal reports whether the reason forbids reconnecting. Only an
// explicit logout is terminal; everything else, including an absent
// reason, is recoverable.
func (r CloseReason) Terminal() bool {
	return r == ReasonLoggedOut
}

func (r CloseReason) String() string {
	switch r {
	case ReasonLoggedOut:
		return "logged_out"
	case ReasonForbidden:
		return "forbidden"
	case ReasonConnectionLost:
		return "connection_lost"
	case ReasonMultideviceBroken:
		return "multidevice_mismatch"
	case ReasonConnectionClosed:
		return "connection_closed"
	case ReasonReplaced:
		return "connection_replaced"
	case ReasonBadSession:
		return "bad_session"
	case ReasonUnavailable:
		return "unavailable_service"
	case ReasonRestartRequired:
		return "restart_required"
	default:
		return "unknown"
	}
}

// Event is one item of a capability's event stream. Only the fields
// relevant to Kind are set.
type Event struct {
	Kind EventKind

	// linking-artifact
	Code string

	// open
	Self string

	// close
	Reason CloseReason
	Err    error

	// creds-updated
	Creds []byte

	// message
	Messages []Message

	// presence
	Presence *Presence

	// groups-update
	Groups []GroupUpdate
}

// MessageKey identifies a message for receipts.
type MessageKey struct {
	ID     string `json:"id"`
	Chat   string `json:"chat"`
	Sender string `json:"sender,omitempty"`
	FromMe bool   `json:"fromMe"`
}

// Message is an inbound (or own-device) message.
type Message struct {
	Key       MessageKey `json:"key"`
	PushName  string     `json:"pushName,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Text      string     `json:"text,omitempty"`
	MediaKind MediaKind  `json:"mediaKind,omitempty"`
	Caption   string     `json:"caption,omitempty"`
	Media     *MediaRef  `json:"media,omitempty"`
}

// BroadcastChat is the pseudo-chat that carries status updates.
const BroadcastChat = "status@broadcast"

// IsStatusBroadcast reports whether the message is a status update.
func (m Message) IsStatusBroadcast() bool {
	return m.Key.Chat == BroadcastChat
}

// Presence is a contact availability change.
type Presence struct {
	From      string    `json:"from"`
	Available bool      `json:"available"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
}

// GroupUpdate describes a membership or metadata change in a group.
type GroupUpdate struct {
	JID      string   `json:"jid"`
	Subject  string   `json:"subject,omitempty"`
	Joined   []string `json:"joined,omitempty"`
	Left     []string `json:"left,omitempty"`
	Promoted []string `json:"promoted,omitempty"`
	Demoted  []string `json:"demoted,omitempty"`
}
