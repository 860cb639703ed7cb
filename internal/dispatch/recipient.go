package dispatch

import (
	"path/filepath"
	"strings"

	"github.com/KafClaw/wagate/internal/channel"
)

const (
	userServer  = "s.whatsapp.net"
	groupServer = "g.us"
)

// NormalizeRecipient turns a phone number into a user JID. Values that
// already carry a server part are returned unchanged.
func NormalizeRecipient(to string) (string, bool) {
	to = strings.TrimSpace(to)
	if to == "" {
		return "", false
	}
	if strings.Contains(to, "@") {
		user, server, _ := strings.Cut(to, "@")
		return to, user != "" && server != ""
	}
	digits := onlyDigits(to)
	if digits == "" {
		return "", false
	}
	return digits + "@" + userServer, true
}

// NormalizeGroup accepts a bare group id or a full group JID.
func NormalizeGroup(group string) (string, bool) {
	group = strings.TrimSpace(group)
	if group == "" {
		return "", false
	}
	if !strings.Contains(group, "@") {
		return group + "@" + groupServer, true
	}
	user, server, _ := strings.Cut(group, "@")
	return group, user != "" && server == groupServer
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return ""
		}
	}
	return b.String()
}

func normalizeAll(field string, in []string) ([]string, error) {
	if len(in) == 0 {
		return nil, required(field)
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		jid, ok := NormalizeRecipient(v)
		if !ok {
			return nil, invalid(field, "contains an invalid recipient: "+v)
		}
		out = append(out, jid)
	}
	return out, nil
}

var mediaByExt = map[string]channel.MediaKind{
	"jpg": channel.MediaImage, "jpeg": channel.MediaImage, "png": channel.MediaImage,
	"gif": channel.MediaImage, "webp": channel.MediaImage,
	"mp4": channel.MediaVideo, "3gp": channel.MediaVideo, "mov": channel.MediaVideo,
	"mkv": channel.MediaVideo, "avi": channel.MediaVideo,
	"mp3": channel.MediaAudio, "ogg": channel.MediaAudio, "opus": channel.MediaAudio,
	"m4a": channel.MediaAudio, "aac": channel.MediaAudio, "wav": channel.MediaAudio,
	"amr": channel.MediaAudio,
}

// ClassifyMedia picks the media kind from the file extension. Unknown
// extensions are sent as documents.
func ClassifyMedia(fileName string) channel.MediaKind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if k, ok := mediaByExt[ext]; ok {
		return k
	}
	return channel.MediaDocument
}

var mimeByExt = map[string]string{
	"jpg": "image/jpeg", "jpeg": "image/jpeg", "png": "image/png", "gif": "image/gif",
	"webp": "image/webp", "mp4": "video/mp4", "3gp": "video/3gpp", "mov": "video/quicktime",
	"mkv": "video/x-matroska", "avi": "video/x-msvideo", "mp3": "audio/mpeg",
	"ogg": "audio/ogg", "opus": "audio/ogg; codecs=opus", "m4a": "audio/mp4", "aac": "audio/aac",
	"wav": "audio/wav", "amr": "audio/amr", "pdf": "application/pdf",
}

func guessMime(fileName string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(fileName), "."))
	if m, ok := mimeByExt[ext]; ok {
		return m
	}
	return "application/octet-stream"
}
