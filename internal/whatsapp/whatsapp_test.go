package whatsapp

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/KafClaw/wagate/internal/channel"
)

func TestParseJID(t *testing.T) {
	jid, err := parseJID("+4915112345")
	require.NoError(t, err)
	require.Equal(t, "4915112345@s.whatsapp.net", jid.String())

	jid, err = parseJID("120363000000000000@g.us")
	require.NoError(t, err)
	require.Equal(t, types.GroupServer, jid.Server)

	_, err = parseJID("  ")
	require.Error(t, err)
}

func TestCloseReasonMapping(t *testing.T) {
	cases := []struct {
		evt  any
		want channel.CloseReason
	}{
		{&events.LoggedOut{}, channel.ReasonLoggedOut},
		{&events.StreamReplaced{}, channel.ReasonReplaced},
		{&events.Disconnected{}, channel.ReasonConnectionClosed},
		{&events.StreamError{Code: "515"}, channel.ReasonRestartRequired},
		{&events.ConnectFailure{Reason: events.ConnectFailureLoggedOut}, channel.ReasonLoggedOut},
		{&events.ConnectFailure{Reason: events.ConnectFailureServiceUnavailable}, channel.ReasonUnavailable},
	}
	for _, tc := range cases {
		got, err, ok := closeReason(tc.evt)
		if !ok || got != tc.want {
			t.Fatalf("closeReason(%T) = %d,%v want %d", tc.evt, got, ok, tc.want)
		}
		require.Error(t, err)
	}
	require.True(t, channel.ReasonLoggedOut.Terminal())

	_, _, ok := closeReason(&events.Connected{})
	require.False(t, ok)
}

func TestConvertTextMessage(t *testing.T) {
	chat := types.NewJID("4915112345", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: chat, Sender: chat},
			ID:            "ABC",
			PushName:      "Ana",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String("hello")},
	}
	msg, ok := convertMessage(evt)
	require.True(t, ok)
	require.Equal(t, "hello", msg.Text)
	require.Equal(t, channel.MessageKey{ID: "ABC", Chat: "4915112345@s.whatsapp.net"}, msg.Key)
	require.Equal(t, "Ana", msg.PushName)
}

func TestConvertGroupImageMessage(t *testing.T) {
	group := types.NewJID("120363000000000000", types.GroupServer)
	sender := types.NewJID("111", types.DefaultUserServer)
	evt := &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: group, Sender: sender, IsGroup: true},
			ID:            "IMG1",
		},
		Message: &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:    proto.String("look"),
			DirectPath: proto.String("/v/t62/abc"),
			MediaKey:   []byte{1, 2, 3},
			Mimetype:   proto.String("image/jpeg"),
			FileLength: proto.Uint64(42),
		}},
	}
	msg, ok := convertMessage(evt)
	require.True(t, ok)
	require.Equal(t, "111@s.whatsapp.net", msg.Key.Sender)
	require.Equal(t, channel.MediaImage, msg.MediaKind)
	require.Equal(t, "look", msg.Caption)
	require.NotNil(t, msg.Media)
	require.Equal(t, "/v/t62/abc", msg.Media.DirectPath)
	require.Equal(t, uint64(42), msg.Media.FileLength)

	_, ok = convertMessage(&events.Message{Info: evt.Info, Message: &waE2E.Message{}})
	require.False(t, ok, "empty protocol message")
}

func TestDownloadableKeepsKind(t *testing.T) {
	ref := channel.MediaRef{Kind: channel.MediaAudio, DirectPath: "/p", MediaKey: []byte{9}}
	msg := downloadable(ref)
	audio, ok := msg.(*waE2E.AudioMessage)
	require.True(t, ok)
	require.Equal(t, "/p", audio.GetDirectPath())

	_, ok = downloadable(channel.MediaRef{Kind: channel.MediaDocument}).(*waE2E.DocumentMessage)
	require.True(t, ok)
}

func TestBuildMediaMessage(t *testing.T) {
	up := whatsmeow.UploadResponse{URL: "https://mmg/x", DirectPath: "/x", MediaKey: []byte{1}, FileLength: 10}
	msg := buildMediaMessage(channel.Media{Kind: channel.MediaDocument, FileName: "a.pdf", MimeType: "application/pdf"}, up)
	require.Equal(t, "a.pdf", msg.GetDocumentMessage().GetFileName())
	require.Nil(t, msg.GetDocumentMessage().Caption)

	msg = buildMediaMessage(channel.Media{Kind: channel.MediaAudio, MimeType: "audio/ogg; codecs=opus"}, up)
	require.True(t, msg.GetAudioMessage().GetPTT())
	require.Equal(t, uint64(10), msg.GetAudioMessage().GetFileLength())
}

func TestBuildButtonsMessage(t *testing.T) {
	msg := buildButtonsMessage(channel.Buttons{Text: "pick", Buttons: []channel.Button{{Text: "yes"}, {ID: "n", Text: "no"}}})
	bm := msg.GetButtonsMessage()
	require.Equal(t, "pick", bm.GetContentText())
	require.Len(t, bm.GetButtons(), 2)
	require.Equal(t, "btn-1", bm.GetButtons()[0].GetButtonID())
	require.Equal(t, "no", bm.GetButtons()[1].GetButtonText().GetDisplayText())
}

func TestParticipantAndPresenceMapping(t *testing.T) {
	change, err := participantChange(channel.ParticipantDemote)
	require.NoError(t, err)
	require.Equal(t, whatsmeow.ParticipantChangeDemote, change)
	_, err = participantChange("ban")
	require.Error(t, err)

	state, media, err := chatPresence(channel.PresenceRecording)
	require.NoError(t, err)
	require.Equal(t, types.ChatPresenceComposing, state)
	require.Equal(t, types.ChatPresenceMediaAudio, media)
	_, _, err = chatPresence(channel.PresenceAvailable)
	require.Error(t, err)
}

func TestConvertGroupInfo(t *testing.T) {
	u := convertGroupInfo(&events.GroupInfo{
		JID:  types.NewJID("1203", types.GroupServer),
		Name: &types.GroupName{Name: "ops"},
		Join: []types.JID{types.NewJID("1", types.DefaultUserServer)},
	})
	require.Equal(t, "1203@g.us", u.JID)
	require.Equal(t, "ops", u.Subject)
	require.Equal(t, []string{"1@s.whatsapp.net"}, u.Joined)
	require.Nil(t, u.Left)
}

func TestPrepareDevice(t *testing.T) {
	dir := t.TempDir()
	path := devicePath(dir, "tenant/1")
	require.Equal(t, dir, filepath.Dir(path))

	require.NoError(t, prepareDevice(path, []byte("blob")))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "blob", string(data))

	// An existing local store wins over the stored blob.
	require.NoError(t, prepareDevice(path, []byte("older")))
	data, _ = os.ReadFile(path)
	require.Equal(t, "blob", string(data))

	require.NoError(t, os.WriteFile(path+"-wal", []byte("w"), 0o600))
	require.NoError(t, prepareDevice(path, nil))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "-wal")
	require.True(t, os.IsNotExist(err))
}

func TestSnapshotDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.db")
	db, err := sql.Open("sqlite", deviceDSN(path))
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE keys (id INTEGER PRIMARY KEY, v BLOB)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO keys (v) VALUES (x'0102')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	snap, err := snapshotDevice(context.Background(), path)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(snap, []byte("SQLite format 3\x00")))
	_, err = os.Stat(path + ".snapshot")
	require.True(t, os.IsNotExist(err), "temp snapshot removed")

	// The snapshot restores to a readable store.
	restored := filepath.Join(t.TempDir(), "restored.db")
	require.NoError(t, prepareDevice(restored, snap))
	db, err = sql.Open("sqlite", deviceDSN(restored))
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM keys`).Scan(&n))
	require.Equal(t, 1, n)
}
