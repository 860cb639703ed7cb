package dispatch

import (
	"context"
	"strings"

	"github.com/KafClaw/wagate/internal/channel"
)

// SendTextParams is the body of sendText.
type SendTextParams struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// SendMediaParams is the body of sendMedia. Data is base64 on the wire.
// Type overrides the kind derived from FileName.
type SendMediaParams struct {
	To       string `json:"to"`
	FileName string `json:"fileName"`
	MimeType string `json:"mimetype,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Type     string `json:"type,omitempty"`
	Data     []byte `json:"data"`
}

// SendButtonsParams is the body of sendButtons.
type SendButtonsParams struct {
	To      string           `json:"to"`
	Text    string           `json:"text"`
	Footer  string           `json:"footer,omitempty"`
	Buttons []channel.Button `json:"buttons"`
}

// BroadcastParams is the body of broadcast.
type BroadcastParams struct {
	Recipients      []string `json:"recipients"`
	Text            string   `json:"text"`
	ContinueOnError bool     `json:"continueOnError,omitempty"`
}

// RecipientResult is one broadcast delivery outcome.
type RecipientResult struct {
	To    string `json:"to"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// BroadcastResult lists every attempted delivery in request order.
type BroadcastResult struct {
	Sent    int               `json:"sent"`
	Failed  int               `json:"failed"`
	Results []RecipientResult `json:"results"`
}

// GroupCreateParams is the body of groupCreate.
type GroupCreateParams struct {
	Subject      string   `json:"subject"`
	Participants []string `json:"participants"`
}

// GroupParticipantsParams is the body of the group membership commands.
type GroupParticipantsParams struct {
	Group        string   `json:"group"`
	Participants []string `json:"participants"`
}

// ContactParams is the body of block and unblock.
type ContactParams struct {
	JID string `json:"jid"`
}

// PresenceParams is the body of presence. An empty To sets own presence.
type PresenceParams struct {
	To    string `json:"to,omitempty"`
	State string `json:"state"`
}

// MarkReadParams is the body of markRead.
type MarkReadParams struct {
	Chat   string   `json:"chat"`
	Sender string   `json:"sender,omitempty"`
	IDs    []string `json:"ids"`
}

// ProfileStatusParams is the body of updateProfileStatus.
type ProfileStatusParams struct {
	Status string `json:"status"`
}

// ProfileNameParams is the body of updateProfileName.
type ProfileNameParams struct {
	Name string `json:"name"`
}

// DownloadParams is the body of downloadMedia: the media reference taken
// from an inbound message event.
type DownloadParams struct {
	Media channel.MediaRef `json:"media"`
}

// DownloadResult carries the decrypted media, base64 on the wire.
type DownloadResult struct {
	MimeType string `json:"mimetype,omitempty"`
	Size     int    `json:"size"`
	Data     []byte `json:"data"`
}

// CheckNumbersParams is the body of checkNumbers.
type CheckNumbersParams struct {
	Phones []string `json:"phones"`
}

// Ack is returned by commands without a payload.
type Ack struct {
	OK bool `json:"ok"`
}

func recipient(field string, to *string) error {
	if strings.TrimSpace(*to) == "" {
		return required(field)
	}
	jid, ok := NormalizeRecipient(*to)
	if !ok {
		return invalid(field, "is not a valid recipient")
	}
	*to = jid
	return nil
}

func nonEmpty(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return required(field)
	}
	return nil
}

var sendText = command[SendTextParams, channel.SendResult]{
	name: "sendText",
	validate: func(p *SendTextParams) error {
		if err := recipient("to", &p.To); err != nil {
			return err
		}
		return nonEmpty("text", p.Text)
	},
	summary: func(p *SendTextParams) map[string]any {
		return map[string]any{"to": p.To, "length": len(p.Text)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *SendTextParams) (channel.SendResult, error) {
		return c.SendText(ctx, p.To, p.Text)
	},
}

// SendText sends a plain text message.
func (d *Dispatcher) SendText(ctx context.Context, tenantID string, p SendTextParams) (channel.SendResult, error) {
	return run(ctx, d, tenantID, sendText, p)
}

var sendMedia = command[SendMediaParams, channel.SendResult]{
	name: "sendMedia",
	validate: func(p *SendMediaParams) error {
		if err := recipient("to", &p.To); err != nil {
			return err
		}
		if err := nonEmpty("fileName", p.FileName); err != nil {
			return err
		}
		if len(p.Data) == 0 {
			return required("data")
		}
		switch channel.MediaKind(p.Type) {
		case "":
			p.Type = string(ClassifyMedia(p.FileName))
		case channel.MediaImage, channel.MediaVideo, channel.MediaAudio, channel.MediaDocument:
		default:
			return invalid("type", "must be image, video, audio or document")
		}
		if p.MimeType == "" {
			p.MimeType = guessMime(p.FileName)
		}
		return nil
	},
	summary: func(p *SendMediaParams) map[string]any {
		return map[string]any{"to": p.To, "fileName": p.FileName, "type": p.Type, "size": len(p.Data)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *SendMediaParams) (channel.SendResult, error) {
		return c.SendMedia(ctx, p.To, channel.Media{
			Kind:     channel.MediaKind(p.Type),
			Data:     p.Data,
			FileName: p.FileName,
			MimeType: p.MimeType,
			Caption:  p.Caption,
		})
	},
}

// SendMedia uploads and sends an attachment.
func (d *Dispatcher) SendMedia(ctx context.Context, tenantID string, p SendMediaParams) (channel.SendResult, error) {
	return run(ctx, d, tenantID, sendMedia, p)
}

const maxButtons = 3

var sendButtons = command[SendButtonsParams, channel.SendResult]{
	name: "sendButtons",
	validate: func(p *SendButtonsParams) error {
		if err := recipient("to", &p.To); err != nil {
			return err
		}
		if err := nonEmpty("text", p.Text); err != nil {
			return err
		}
		if len(p.Buttons) == 0 {
			return required("buttons")
		}
		if len(p.Buttons) > maxButtons {
			return invalid("buttons", "allows at most 3 entries")
		}
		for i := range p.Buttons {
			if strings.TrimSpace(p.Buttons[i].Text) == "" {
				return invalid("buttons", "entries need text")
			}
		}
		return nil
	},
	summary: func(p *SendButtonsParams) map[string]any {
		return map[string]any{"to": p.To, "buttons": len(p.Buttons)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *SendButtonsParams) (channel.SendResult, error) {
		return c.SendButtons(ctx, p.To, channel.Buttons{Text: p.Text, Footer: p.Footer, Buttons: p.Buttons})
	},
}

// SendButtons sends a quick-reply button message.
func (d *Dispatcher) SendButtons(ctx context.Context, tenantID string, p SendButtonsParams) (channel.SendResult, error) {
	return run(ctx, d, tenantID, sendButtons, p)
}

var broadcast = command[BroadcastParams, BroadcastResult]{
	name: "broadcast",
	validate: func(p *BroadcastParams) error {
		to, err := normalizeAll("recipients", p.Recipients)
		if err != nil {
			return err
		}
		p.Recipients = to
		return nonEmpty("text", p.Text)
	},
	summary: func(p *BroadcastParams) map[string]any {
		return map[string]any{"recipients": len(p.Recipients), "continueOnError": p.ContinueOnError}
	},
	each: func(ctx context.Context, bound callTimeout, c channel.Capability, p *BroadcastParams) (BroadcastResult, error) {
		var (
			res      BroadcastResult
			firstErr error
		)
		for _, to := range p.Recipients {
			callCtx, cancel := bound(ctx)
			sent, err := c.SendText(callCtx, to, p.Text)
			cancel()
			if err != nil {
				res.Failed++
				res.Results = append(res.Results, RecipientResult{To: to, Error: err.Error()})
				if firstErr == nil {
					firstErr = err
				}
				if !p.ContinueOnError {
					return res, firstErr
				}
				continue
			}
			res.Sent++
			res.Results = append(res.Results, RecipientResult{To: to, ID: sent.ID})
		}
		if res.Sent == 0 && firstErr != nil {
			return res, firstErr
		}
		return res, nil
	},
}

// Broadcast sends the same text to each recipient in order, each send
// under its own timeout. It stops at the first failure unless
// ContinueOnError is set; the partial result is returned alongside the
// error.
func (d *Dispatcher) Broadcast(ctx context.Context, tenantID string, p BroadcastParams) (BroadcastResult, error) {
	return run(ctx, d, tenantID, broadcast, p)
}

var groupCreate = command[GroupCreateParams, channel.GroupInfo]{
	name: "groupCreate",
	validate: func(p *GroupCreateParams) error {
		if err := nonEmpty("subject", p.Subject); err != nil {
			return err
		}
		to, err := normalizeAll("participants", p.Participants)
		if err != nil {
			return err
		}
		p.Participants = to
		return nil
	},
	summary: func(p *GroupCreateParams) map[string]any {
		return map[string]any{"subject": p.Subject, "participants": len(p.Participants)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *GroupCreateParams) (channel.GroupInfo, error) {
		return c.CreateGroup(ctx, p.Subject, p.Participants)
	},
}

// CreateGroup creates a group with the given participants.
func (d *Dispatcher) CreateGroup(ctx context.Context, tenantID string, p GroupCreateParams) (channel.GroupInfo, error) {
	return run(ctx, d, tenantID, groupCreate, p)
}

func participantsCommand(name string, action channel.ParticipantAction) command[GroupParticipantsParams, []channel.ParticipantResult] {
	return command[GroupParticipantsParams, []channel.ParticipantResult]{
		name: name,
		validate: func(p *GroupParticipantsParams) error {
			if strings.TrimSpace(p.Group) == "" {
				return required("group")
			}
			jid, ok := NormalizeGroup(p.Group)
			if !ok {
				return invalid("group", "is not a group id")
			}
			p.Group = jid
			to, err := normalizeAll("participants", p.Participants)
			if err != nil {
				return err
			}
			p.Participants = to
			return nil
		},
		summary: func(p *GroupParticipantsParams) map[string]any {
			return map[string]any{"group": p.Group, "participants": len(p.Participants)}
		},
		invoke: func(ctx context.Context, c channel.Capability, p *GroupParticipantsParams) ([]channel.ParticipantResult, error) {
			return c.UpdateParticipants(ctx, p.Group, p.Participants, action)
		},
	}
}

var (
	groupAdd     = participantsCommand("groupAdd", channel.ParticipantAdd)
	groupRemove  = participantsCommand("groupRemove", channel.ParticipantRemove)
	groupPromote = participantsCommand("groupPromote", channel.ParticipantPromote)
	groupDemote  = participantsCommand("groupDemote", channel.ParticipantDemote)
)

// AddParticipants adds members to a group.
func (d *Dispatcher) AddParticipants(ctx context.Context, tenantID string, p GroupParticipantsParams) ([]channel.ParticipantResult, error) {
	return run(ctx, d, tenantID, groupAdd, p)
}

// RemoveParticipants removes members from a group.
func (d *Dispatcher) RemoveParticipants(ctx context.Context, tenantID string, p GroupParticipantsParams) ([]channel.ParticipantResult, error) {
	return run(ctx, d, tenantID, groupRemove, p)
}

// PromoteParticipants makes members group admins.
func (d *Dispatcher) PromoteParticipants(ctx context.Context, tenantID string, p GroupParticipantsParams) ([]channel.ParticipantResult, error) {
	return run(ctx, d, tenantID, groupPromote, p)
}

// DemoteParticipants revokes admin rights.
func (d *Dispatcher) DemoteParticipants(ctx context.Context, tenantID string, p GroupParticipantsParams) ([]channel.ParticipantResult, error) {
	return run(ctx, d, tenantID, groupDemote, p)
}

func blocklistCommand(name string, block bool) command[ContactParams, Ack] {
	return command[ContactParams, Ack]{
		name: name,
		validate: func(p *ContactParams) error {
			return recipient("jid", &p.JID)
		},
		summary: func(p *ContactParams) map[string]any {
			return map[string]any{"jid": p.JID}
		},
		invoke: func(ctx context.Context, c channel.Capability, p *ContactParams) (Ack, error) {
			if err := c.UpdateBlocklist(ctx, p.JID, block); err != nil {
				return Ack{}, err
			}
			return Ack{OK: true}, nil
		},
	}
}

var (
	blockContact   = blocklistCommand("block", true)
	unblockContact = blocklistCommand("unblock", false)
)

// Block adds a contact to the blocklist.
func (d *Dispatcher) Block(ctx context.Context, tenantID string, p ContactParams) (Ack, error) {
	return run(ctx, d, tenantID, blockContact, p)
}

// Unblock removes a contact from the blocklist.
func (d *Dispatcher) Unblock(ctx context.Context, tenantID string, p ContactParams) (Ack, error) {
	return run(ctx, d, tenantID, unblockContact, p)
}

var presence = command[PresenceParams, Ack]{
	name: "presence",
	validate: func(p *PresenceParams) error {
		state := channel.PresenceState(strings.ToLower(strings.TrimSpace(p.State)))
		if state == "" {
			return required("state")
		}
		switch state {
		case channel.PresenceAvailable, channel.PresenceUnavailable:
			if strings.TrimSpace(p.To) != "" {
				return invalid("state", "must be composing, recording or paused for a chat")
			}
		case channel.PresenceComposing, channel.PresenceRecording, channel.PresencePaused:
			if err := recipient("to", &p.To); err != nil {
				return err
			}
		default:
			return invalid("state", "is not a known presence")
		}
		p.State = string(state)
		return nil
	},
	summary: func(p *PresenceParams) map[string]any {
		return map[string]any{"to": p.To, "state": p.State}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *PresenceParams) (Ack, error) {
		if err := c.SendPresence(ctx, channel.PresenceUpdate{To: p.To, State: channel.PresenceState(p.State)}); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true}, nil
	},
}

// Presence sets own presence or a chat presence.
func (d *Dispatcher) Presence(ctx context.Context, tenantID string, p PresenceParams) (Ack, error) {
	return run(ctx, d, tenantID, presence, p)
}

var markRead = command[MarkReadParams, Ack]{
	name: "markRead",
	validate: func(p *MarkReadParams) error {
		if strings.TrimSpace(p.Chat) == "" {
			return required("chat")
		}
		jid, ok := NormalizeRecipient(p.Chat)
		if !ok {
			return invalid("chat", "is not a valid chat")
		}
		p.Chat = jid
		if p.Sender != "" {
			if jid, ok = NormalizeRecipient(p.Sender); !ok {
				return invalid("sender", "is not a valid sender")
			}
			p.Sender = jid
		}
		if len(p.IDs) == 0 {
			return required("ids")
		}
		return nil
	},
	summary: func(p *MarkReadParams) map[string]any {
		return map[string]any{"chat": p.Chat, "count": len(p.IDs)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *MarkReadParams) (Ack, error) {
		keys := make([]channel.MessageKey, 0, len(p.IDs))
		for _, id := range p.IDs {
			keys = append(keys, channel.MessageKey{ID: id, Chat: p.Chat, Sender: p.Sender})
		}
		if err := c.MarkRead(ctx, keys); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true}, nil
	},
}

// MarkRead sends read receipts for messages in one chat.
func (d *Dispatcher) MarkRead(ctx context.Context, tenantID string, p MarkReadParams) (Ack, error) {
	return run(ctx, d, tenantID, markRead, p)
}

var profileStatus = command[ProfileStatusParams, Ack]{
	name: "updateProfileStatus",
	validate: func(p *ProfileStatusParams) error {
		return nonEmpty("status", p.Status)
	},
	invoke: func(ctx context.Context, c channel.Capability, p *ProfileStatusParams) (Ack, error) {
		if err := c.SetStatus(ctx, p.Status); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true}, nil
	},
}

// UpdateProfileStatus changes the "about" text.
func (d *Dispatcher) UpdateProfileStatus(ctx context.Context, tenantID string, p ProfileStatusParams) (Ack, error) {
	return run(ctx, d, tenantID, profileStatus, p)
}

var profileName = command[ProfileNameParams, Ack]{
	name: "updateProfileName",
	validate: func(p *ProfileNameParams) error {
		return nonEmpty("name", p.Name)
	},
	summary: func(p *ProfileNameParams) map[string]any {
		return map[string]any{"name": p.Name}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *ProfileNameParams) (Ack, error) {
		if err := c.SetName(ctx, p.Name); err != nil {
			return Ack{}, err
		}
		return Ack{OK: true}, nil
	},
}

// UpdateProfileName changes the push name.
func (d *Dispatcher) UpdateProfileName(ctx context.Context, tenantID string, p ProfileNameParams) (Ack, error) {
	return run(ctx, d, tenantID, profileName, p)
}

var downloadMedia = command[DownloadParams, DownloadResult]{
	name: "downloadMedia",
	validate: func(p *DownloadParams) error {
		if p.Media.DirectPath == "" && p.Media.URL == "" {
			return required("media.directPath")
		}
		if len(p.Media.MediaKey) == 0 {
			return required("media.mediaKey")
		}
		if p.Media.Kind == "" {
			p.Media.Kind = channel.MediaDocument
		}
		return nil
	},
	summary: func(p *DownloadParams) map[string]any {
		return map[string]any{"kind": string(p.Media.Kind), "size": p.Media.FileLength}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *DownloadParams) (DownloadResult, error) {
		data, err := c.Download(ctx, p.Media)
		if err != nil {
			return DownloadResult{}, err
		}
		return DownloadResult{MimeType: p.Media.MimeType, Size: len(data), Data: data}, nil
	},
}

// DownloadMedia fetches and decrypts media from an inbound message.
func (d *Dispatcher) DownloadMedia(ctx context.Context, tenantID string, p DownloadParams) (DownloadResult, error) {
	return run(ctx, d, tenantID, downloadMedia, p)
}

const maxNumberChecks = 50

var checkNumbers = command[CheckNumbersParams, []channel.NumberStatus]{
	name: "checkNumbers",
	validate: func(p *CheckNumbersParams) error {
		if len(p.Phones) == 0 {
			return required("phones")
		}
		if len(p.Phones) > maxNumberChecks {
			return invalid("phones", "allows at most 50 entries")
		}
		out := make([]string, 0, len(p.Phones))
		for _, ph := range p.Phones {
			digits := onlyDigits(strings.TrimSpace(ph))
			if digits == "" {
				return invalid("phones", "contains an invalid number: "+ph)
			}
			out = append(out, "+"+digits)
		}
		p.Phones = out
		return nil
	},
	summary: func(p *CheckNumbersParams) map[string]any {
		return map[string]any{"count": len(p.Phones)}
	},
	invoke: func(ctx context.Context, c channel.Capability, p *CheckNumbersParams) ([]channel.NumberStatus, error) {
		return c.CheckNumbers(ctx, p.Phones)
	},
}

// CheckNumbers reports which phone numbers are registered on the network.
func (d *Dispatcher) CheckNumbers(ctx context.Context, tenantID string, p CheckNumbersParams) ([]channel.NumberStatus, error) {
	return run(ctx, d, tenantID, checkNumbers, p)
}
