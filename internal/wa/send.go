package wa

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// MediaKind selects the outgoing media message shape.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaDocument MediaKind = "document"
	MediaVoice    MediaKind = "voice"
)

const defaultVoiceMime = "audio/ogg; codecs=opus"

// Media is an outgoing attachment.
type Media struct {
	Kind     MediaKind
	Data     []byte
	MimeType string
	FileName string
	Caption  string
}

// SendText sends a plain text message.
func (m *Manager) SendText(ctx context.Context, sessionID string, to types.JID, text string) error {
	client, err := m.client(sessionID)
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	message := &waProto.Message{Conversation: proto.String(text)}
	if _, err := client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	m.countOutgoing("text")
	return nil
}

// SendMedia uploads and sends an image, video, document or voice note.
func (m *Manager) SendMedia(ctx context.Context, sessionID string, to types.JID, media Media) error {
	if len(media.Data) == 0 {
		return fmt.Errorf("send %s: empty data", media.Kind)
	}
	client, err := m.client(sessionID)
	if err != nil {
		return fmt.Errorf("send %s: %w", media.Kind, err)
	}

	mediaType, err := uploadType(media.Kind)
	if err != nil {
		return err
	}
	uploaded, err := client.Upload(ctx, media.Data, mediaType)
	if err != nil {
		return fmt.Errorf("upload %s: %w", media.Kind, err)
	}

	message := buildMediaMessage(media, uploaded)
	if _, err := client.SendMessage(ctx, to, message); err != nil {
		return fmt.Errorf("send %s: %w", media.Kind, err)
	}
	m.countOutgoing(string(media.Kind))
	return nil
}

// MarkRead acknowledges an inbound message.
func (m *Manager) MarkRead(ctx context.Context, sessionID string, msg InboundMessage) error {
	client, err := m.client(sessionID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	sender := types.EmptyJID
	if msg.IsGroup {
		sender = msg.Sender
	}
	if err := client.MarkRead([]types.MessageID{msg.ID}, time.Now(), msg.Chat, sender); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// SetTyping toggles the composing indicator in chat.
func (m *Manager) SetTyping(ctx context.Context, sessionID string, chat types.JID, typing bool) error {
	client, err := m.client(sessionID)
	if err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	if err := client.SendChatPresence(chat, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("set typing: %w", err)
	}
	return nil
}

func (m *Manager) countOutgoing(kind string) {
	if m.metrics != nil {
		m.metrics.WAOutgoingMessages.WithLabelValues(kind).Inc()
	}
}

func uploadType(kind MediaKind) (whatsmeow.MediaType, error) {
	switch kind {
	case MediaImage:
		return whatsmeow.MediaImage, nil
	case MediaVideo:
		return whatsmeow.MediaVideo, nil
	case MediaDocument:
		return whatsmeow.MediaDocument, nil
	case MediaVoice:
		return whatsmeow.MediaAudio, nil
	default:
		return "", errors.New("unsupported media kind " + string(kind))
	}
}

func mimeOf(media Media) string {
	if media.MimeType != "" && media.MimeType != "application/octet-stream" {
		return media.MimeType
	}
	if media.Kind == MediaVoice {
		return defaultVoiceMime
	}
	return http.DetectContentType(media.Data)
}

func buildMediaMessage(media Media, up whatsmeow.UploadResponse) *waProto.Message {
	mime := proto.String(mimeOf(media))
	var caption *string
	if media.Caption != "" {
		caption = proto.String(media.Caption)
	}

	switch media.Kind {
	case MediaImage:
		return &waProto.Message{ImageMessage: &waProto.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			Caption:       caption,
		}}
	case MediaVideo:
		return &waProto.Message{VideoMessage: &waProto.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			Caption:       caption,
		}}
	case MediaDocument:
		return &waProto.Message{DocumentMessage: &waProto.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			FileName:      proto.String(media.FileName),
			Title:         proto.String(media.FileName),
			Caption:       caption,
		}}
	default:
		return &waProto.Message{AudioMessage: &waProto.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      mime,
			PTT:           proto.Bool(true),
		}}
	}
}
