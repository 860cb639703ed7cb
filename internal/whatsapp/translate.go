package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/KafClaw/wagate/internal/channel"
)

// parseJID accepts full JIDs and bare phone numbers.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty jid")
	}
	if !strings.Contains(s, "@") {
		return types.NewJID(strings.TrimPrefix(s, "+"), types.DefaultUserServer), nil
	}
	jid, err := types.ParseJID(s)
	if err != nil {
		return types.JID{}, fmt.Errorf("parse jid %q: %w", s, err)
	}
	return jid, nil
}

func parseJIDs(in []string) ([]types.JID, error) {
	out := make([]types.JID, 0, len(in))
	for _, s := range in {
		jid, err := parseJID(s)
		if err != nil {
			return nil, err
		}
		out = append(out, jid)
	}
	return out, nil
}

func jidStrings(in []types.JID) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, j := range in {
		out = append(out, j.String())
	}
	return out
}

// closeReason maps connection-level events to a close reason. ok is false
// for events that do not end the connection.
func closeReason(evt any) (reason channel.CloseReason, err error, ok bool) {
	switch v := evt.(type) {
	case *events.LoggedOut:
		return channel.ReasonLoggedOut, fmt.Errorf("logged out: %v", v.Reason), true
	case *events.StreamReplaced:
		return channel.ReasonReplaced, fmt.Errorf("stream replaced by another connection"), true
	case *events.Disconnected:
		return channel.ReasonConnectionClosed, fmt.Errorf("disconnected"), true
	case *events.TemporaryBan:
		return channel.ReasonForbidden, fmt.Errorf("temporary ban: %+v", *v), true
	case *events.ClientOutdated:
		return channel.ReasonBadSession, fmt.Errorf("client outdated"), true
	case *events.StreamError:
		if v.Code == "515" {
			return channel.ReasonRestartRequired, fmt.Errorf("stream error 515"), true
		}
		return channel.ReasonBadSession, fmt.Errorf("stream error %s", v.Code), true
	case *events.ConnectFailure:
		cause := fmt.Errorf("connect failure %d: %s", int(v.Reason), v.Message)
		switch {
		case v.Reason.IsLoggedOut():
			return channel.ReasonLoggedOut, cause, true
		case v.Reason == events.ConnectFailureTempBanned:
			return channel.ReasonForbidden, cause, true
		case v.Reason == events.ConnectFailureServiceUnavailable:
			return channel.ReasonUnavailable, cause, true
		default:
			return channel.ReasonBadSession, cause, true
		}
	}
	return channel.ReasonUnknown, nil, false
}

// convertMessage flattens an incoming message. ok is false for protocol
// messages that carry nothing a client can show.
func convertMessage(evt *events.Message) (channel.Message, bool) {
	if evt == nil || evt.Message == nil {
		return channel.Message{}, false
	}
	info := evt.Info
	out := channel.Message{
		Key: channel.MessageKey{
			ID:     info.ID,
			Chat:   info.Chat.String(),
			FromMe: info.IsFromMe,
		},
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
	}
	if info.IsGroup || info.Chat.String() == channel.BroadcastChat {
		out.Key.Sender = info.Sender.String()
	}

	m := evt.Message
	switch {
	case m.GetConversation() != "":
		out.Text = m.GetConversation()
	case m.GetExtendedTextMessage() != nil:
		out.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		out.MediaKind, out.Caption = channel.MediaImage, img.GetCaption()
		out.Media = mediaRef(channel.MediaImage, img)
	case m.GetVideoMessage() != nil:
		vid := m.GetVideoMessage()
		out.MediaKind, out.Caption = channel.MediaVideo, vid.GetCaption()
		out.Media = mediaRef(channel.MediaVideo, vid)
	case m.GetAudioMessage() != nil:
		out.MediaKind = channel.MediaAudio
		out.Media = mediaRef(channel.MediaAudio, m.GetAudioMessage())
	case m.GetDocumentMessage() != nil:
		doc := m.GetDocumentMessage()
		out.MediaKind, out.Caption = channel.MediaDocument, doc.GetCaption()
		if out.Caption == "" {
			out.Caption = doc.GetFileName()
		}
		out.Media = mediaRef(channel.MediaDocument, doc)
	case m.GetButtonsResponseMessage() != nil:
		out.Text = m.GetButtonsResponseMessage().GetSelectedDisplayText()
	default:
		return channel.Message{}, false
	}
	return out, true
}

type mediaMessage interface {
	GetURL() string
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
	GetFileLength() uint64
	GetMimetype() string
}

func mediaRef(kind channel.MediaKind, m mediaMessage) *channel.MediaRef {
	return &channel.MediaRef{
		Kind:          kind,
		DirectPath:    m.GetDirectPath(),
		URL:           m.GetURL(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
		FileLength:    m.GetFileLength(),
		MimeType:      m.GetMimetype(),
	}
}

// downloadable rebuilds the message node whatsmeow needs to fetch media.
// The concrete type selects the media key derivation.
func downloadable(ref channel.MediaRef) whatsmeow.DownloadableMessage {
	url, path, mime := optional(ref.URL), optional(ref.DirectPath), optional(ref.MimeType)
	length := proto.Uint64(ref.FileLength)
	switch ref.Kind {
	case channel.MediaImage:
		return &waE2E.ImageMessage{URL: url, DirectPath: path, Mimetype: mime, MediaKey: ref.MediaKey,
			FileSHA256: ref.FileSHA256, FileEncSHA256: ref.FileEncSHA256, FileLength: length}
	case channel.MediaVideo:
		return &waE2E.VideoMessage{URL: url, DirectPath: path, Mimetype: mime, MediaKey: ref.MediaKey,
			FileSHA256: ref.FileSHA256, FileEncSHA256: ref.FileEncSHA256, FileLength: length}
	case channel.MediaAudio:
		return &waE2E.AudioMessage{URL: url, DirectPath: path, Mimetype: mime, MediaKey: ref.MediaKey,
			FileSHA256: ref.FileSHA256, FileEncSHA256: ref.FileEncSHA256, FileLength: length}
	default:
		return &waE2E.DocumentMessage{URL: url, DirectPath: path, Mimetype: mime, MediaKey: ref.MediaKey,
			FileSHA256: ref.FileSHA256, FileEncSHA256: ref.FileEncSHA256, FileLength: length}
	}
}

func uploadType(kind channel.MediaKind) whatsmeow.MediaType {
	switch kind {
	case channel.MediaImage:
		return whatsmeow.MediaImage
	case channel.MediaVideo:
		return whatsmeow.MediaVideo
	case channel.MediaAudio:
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

// buildMediaMessage wraps an uploaded attachment in the matching message node.
func buildMediaMessage(m channel.Media, up whatsmeow.UploadResponse) *waE2E.Message {
	url, path, mime := proto.String(up.URL), proto.String(up.DirectPath), proto.String(m.MimeType)
	length := proto.Uint64(up.FileLength)
	caption := optional(m.Caption)
	switch m.Kind {
	case channel.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL: url, DirectPath: path, Mimetype: mime, Caption: caption, MediaKey: up.MediaKey,
			FileSHA256: up.FileSHA256, FileEncSHA256: up.FileEncSHA256, FileLength: length,
		}}
	case channel.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL: url, DirectPath: path, Mimetype: mime, Caption: caption, MediaKey: up.MediaKey,
			FileSHA256: up.FileSHA256, FileEncSHA256: up.FileEncSHA256, FileLength: length,
		}}
	case channel.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL: url, DirectPath: path, Mimetype: mime, MediaKey: up.MediaKey,
			FileSHA256: up.FileSHA256, FileEncSHA256: up.FileEncSHA256, FileLength: length,
			PTT: proto.Bool(strings.Contains(m.MimeType, "opus")),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL: url, DirectPath: path, Mimetype: mime, Caption: caption, MediaKey: up.MediaKey,
			FileSHA256: up.FileSHA256, FileEncSHA256: up.FileEncSHA256, FileLength: length,
			FileName: proto.String(m.FileName), Title: proto.String(m.FileName),
		}}
	}
}

func buildButtonsMessage(b channel.Buttons) *waE2E.Message {
	buttons := make([]*waE2E.ButtonsMessage_Button, 0, len(b.Buttons))
	for i, btn := range b.Buttons {
		id := btn.ID
		if id == "" {
			id = fmt.Sprintf("btn-%d", i+1)
		}
		buttons = append(buttons, &waE2E.ButtonsMessage_Button{
			ButtonID:   proto.String(id),
			ButtonText: &waE2E.ButtonsMessage_Button_ButtonText{DisplayText: proto.String(btn.Text)},
			Type:       waE2E.ButtonsMessage_Button_RESPONSE.Enum(),
		})
	}
	return &waE2E.Message{ButtonsMessage: &waE2E.ButtonsMessage{
		ContentText: proto.String(b.Text),
		FooterText:  optional(b.Footer),
		HeaderType:  waE2E.ButtonsMessage_EMPTY.Enum(),
		Buttons:     buttons,
	}}
}

func participantChange(a channel.ParticipantAction) (whatsmeow.ParticipantChange, error) {
	switch a {
	case channel.ParticipantAdd:
		return whatsmeow.ParticipantChangeAdd, nil
	case channel.ParticipantRemove:
		return whatsmeow.ParticipantChangeRemove, nil
	case channel.ParticipantPromote:
		return whatsmeow.ParticipantChangePromote, nil
	case channel.ParticipantDemote:
		return whatsmeow.ParticipantChangeDemote, nil
	}
	return "", fmt.Errorf("unknown participant action %q", a)
}

func chatPresence(s channel.PresenceState) (types.ChatPresence, types.ChatPresenceMedia, error) {
	switch s {
	case channel.PresenceComposing:
		return types.ChatPresenceComposing, types.ChatPresenceMediaText, nil
	case channel.PresenceRecording:
		return types.ChatPresenceComposing, types.ChatPresenceMediaAudio, nil
	case channel.PresencePaused:
		return types.ChatPresencePaused, types.ChatPresenceMediaText, nil
	}
	return "", "", fmt.Errorf("unsupported chat presence %q", s)
}

func convertPresence(evt *events.Presence) *channel.Presence {
	return &channel.Presence{
		From:      evt.From.String(),
		Available: !evt.Unavailable,
		LastSeen:  evt.LastSeen,
	}
}

func convertGroupInfo(evt *events.GroupInfo) channel.GroupUpdate {
	u := channel.GroupUpdate{
		JID:      evt.JID.String(),
		Joined:   jidStrings(evt.Join),
		Left:     jidStrings(evt.Leave),
		Promoted: jidStrings(evt.Promote),
		Demoted:  jidStrings(evt.Demote),
	}
	if evt.Name != nil {
		u.Subject = evt.Name.Name
	}
	return u
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}
