package channel

import "time"

// SendResult is returned by every send operation.
type SendResult struct {
	ID        string    `json:"id"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// MediaKind is the wire category of a media attachment.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// Media is an outbound attachment.
type Media struct {
	Kind     MediaKind
	Data     []byte
	FileName string
	MimeType string
	Caption  string
}

// MediaRef points at downloadable media carried by an inbound message.
type MediaRef struct {
	Kind          MediaKind `json:"kind"`
	DirectPath    string    `json:"directPath"`
	URL           string    `json:"url,omitempty"`
	MediaKey      []byte    `json:"mediaKey"`
	FileSHA256    []byte    `json:"fileSha256"`
	FileEncSHA256 []byte    `json:"fileEncSha256"`
	FileLength    uint64    `json:"fileLength"`
	MimeType      string    `json:"mimetype,omitempty"`
}

// Button is one quick-reply button.
type Button struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Buttons is a text message with quick-reply buttons.
type Buttons struct {
	Text    string
	Footer  string
	Buttons []Button
}

// GroupInfo describes a group after creation.
type GroupInfo struct {
	JID          string   `json:"jid"`
	Subject      string   `json:"subject"`
	Owner        string   `json:"owner,omitempty"`
	Participants []string `json:"participants"`
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// ParticipantResult is the per-participant outcome of a membership change.
type ParticipantResult struct {
	JID    string `json:"jid"`
	Status int    `json:"status"`
}

// PresenceState is an own-presence or chat-presence value.
type PresenceState string

const (
	PresenceAvailable   PresenceState = "available"
	PresenceUnavailable PresenceState = "unavailable"
	PresenceComposing   PresenceState = "composing"
	PresenceRecording   PresenceState = "recording"
	PresencePaused      PresenceState = "paused"
)

// PresenceUpdate sets global presence when To is empty, chat presence
// otherwise.
type PresenceUpdate struct {
	To    string
	State PresenceState
}

// NumberStatus is the result of an existence check.
type NumberStatus struct {
	Query  string `json:"query"`
	JID    string `json:"jid,omitempty"`
	Exists bool   `json:"exists"`
}
