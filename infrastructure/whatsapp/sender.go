package whatsapp

import (
	"context"
	"fmt"
	"sync"

	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Session envuelve un cliente whatsmeow conectado para un tenant.
type Session struct {
	client *whatsmeow.Client
}

func NewSession(client *whatsmeow.Client) *Session {
	return &Session{client: client}
}

// SendMedia sube los bytes al servidor de medios y despacha el mensaje de
// protocolo que corresponde a la categoría del payload.
func (s *Session) SendMedia(ctx context.Context, destination string, payload domainSendMedia.MessagePayload) (domainSendMedia.SentMessage, error) {
	if s.client == nil {
		return domainSendMedia.SentMessage{}, pkgError.InternalServerError("whatsapp client not connected")
	}

	jid, err := types.ParseJID(destination)
	if err != nil {
		return domainSendMedia.SentMessage{}, pkgError.ValidationError(fmt.Sprintf("invalid destination JID %s: %v", destination, err))
	}

	var mType whatsmeow.MediaType
	switch payload.Type {
	case domainSendMedia.MediaTypeImage:
		mType = whatsmeow.MediaImage
	case domainSendMedia.MediaTypeVideo:
		mType = whatsmeow.MediaVideo
	case domainSendMedia.MediaTypeAudio:
		mType = whatsmeow.MediaAudio
	default:
		mType = whatsmeow.MediaDocument
	}

	uploaded, err := s.client.Upload(ctx, payload.Data, mType)
	if err != nil {
		return domainSendMedia.SentMessage{}, fmt.Errorf("failed to upload media: %w", err)
	}

	msg := waE2E.Message{}
	switch payload.Type {
	case domainSendMedia.MediaTypeImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(payload.Mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(payload.Caption),
		}
	case domainSendMedia.MediaTypeVideo:
		msg.VideoMessage = &waE2E.VideoMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(payload.Mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(payload.Caption),
			GifPlayback:   proto.Bool(payload.GifPlayback),
		}
	case domainSendMedia.MediaTypeAudio:
		msg.AudioMessage = &waE2E.AudioMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(payload.Mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			PTT:           proto.Bool(payload.PTT),
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(payload.Mimetype),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uploaded.FileLength),
			Caption:       proto.String(payload.Caption),
			FileName:      proto.String(payload.FileName),
		}
	}

	resp, err := s.client.SendMessage(ctx, jid, &msg)
	if err != nil {
		return domainSendMedia.SentMessage{}, err
	}

	logrus.WithFields(logrus.Fields{
		"message_id": resp.ID,
		"jid":        jid.String(),
		"type":       payload.Type,
	}).Debug("[WHATSAPP] Media message sent")

	return domainSendMedia.SentMessage{ID: string(resp.ID), Timestamp: resp.Timestamp}, nil
}

// SessionRegistry mapea companyID a su sesión conectada. Las sesiones se
// registran cuando el socket del tenant termina el login.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[uint]*Session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[uint]*Session)}
}

func (r *SessionRegistry) Register(companyID uint, client *whatsmeow.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[companyID] = NewSession(client)
	logrus.Infof("[WHATSAPP] Session registered for company %d", companyID)
}

func (r *SessionRegistry) Unregister(companyID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, companyID)
	logrus.Infof("[WHATSAPP] Session unregistered for company %d", companyID)
}

// Session implementa domains/sendmedia.SessionProvider.
func (r *SessionRegistry) Session(companyID uint) (domainSendMedia.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[companyID]
	if !ok {
		return nil, fmt.Errorf("no connected session for company %d", companyID)
	}
	return session, nil
}
