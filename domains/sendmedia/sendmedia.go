package sendmedia

import (
	"context"
	"strings"
	"time"
)

// MediaType classifies a file by its MIME category.
type MediaType string

const (
	MediaTypeAudio    MediaType = "audio"
	MediaTypeImage    MediaType = "image"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
)

// Source indica la procedencia de un archivo. Los assets del flow-builder se
// referencian repetidamente por nombre con rutas temporales distintas, así
// que el pipeline usa para ellos la vía de cache por nombre/tamaño.
type Source string

const (
	SourceUpload      Source = "upload"
	SourceFlowBuilder Source = "flowbuilder"
)

// MessagePayload is the protocol-ready payload handed to the session
// transport. Exactly one media category is meaningful per payload.
type MessagePayload struct {
	Type        MediaType `json:"type"`
	Data        []byte    `json:"-"`
	Caption     string    `json:"caption,omitempty"`
	FileName    string    `json:"file_name,omitempty"`
	Mimetype    string    `json:"mimetype,omitempty"`
	PTT         bool      `json:"ptt,omitempty"`
	GifPlayback bool      `json:"gif_playback,omitempty"`
}

// SendMediaRequest is the inbound request for SendWhatsAppMedia.
type SendMediaRequest struct {
	TicketID    uint
	CompanyID   uint
	FilePath    string
	FileName    string
	Mimetype    string
	FileSize    int64
	Body        string
	IsPrivate   bool
	IsForwarded bool
	Source      Source
}

// SentMessage is the transport's acknowledgement for a dispatched message.
type SentMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Contact holds the routing data needed to address a message.
type Contact struct {
	ID        uint
	Name      string
	Number    string
	RemoteJID string
	IsGroup   bool
}

// Ticket is the conversation a media message belongs to.
type Ticket struct {
	ID        uint
	ContactID uint
	CompanyID uint
	Status    string
}

// Message is the persisted record of a sent (or private) media message.
type Message struct {
	ID        string
	TicketID  uint
	ContactID uint
	CompanyID uint
	Body      string
	MediaType MediaType
	MediaPath string
	FromMe    bool
	IsPrivate bool
	CreatedAt time.Time
}

// Session dispatches payloads for one connected WhatsApp account.
type Session interface {
	SendMedia(ctx context.Context, destination string, payload MessagePayload) (SentMessage, error)
}

// SessionProvider resolves the session bound to a tenant.
type SessionProvider interface {
	Session(companyID uint) (Session, error)
}

// MessageStore persists message records (external collaborator).
type MessageStore interface {
	CreateMessage(ctx context.Context, msg Message) error
}

// ContactStore resolves contacts for destination routing.
type ContactStore interface {
	FindContact(ctx context.Context, id uint) (Contact, error)
}

// TicketStore loads tickets and updates their last-message preview.
type TicketStore interface {
	FindTicket(ctx context.Context, id uint) (Ticket, error)
	UpdateTicketLastMessage(ctx context.Context, ticketID uint, lastMessage string) error
}

// ErrorReporter receives unexpected failures (fire and forget).
type ErrorReporter interface {
	CaptureException(err error)
}

// ISendMediaUsecase is the media pipeline's public surface.
type ISendMediaUsecase interface {
	GetMessageOptions(ctx context.Context, fileName, path string, companyID uint, body string) (MessagePayload, error)
	SendWhatsAppMedia(ctx context.Context, request SendMediaRequest) (SentMessage, error)
}

// DetectSource infiere la procedencia desde la ruta temporal para callers
// que no la conocen. Solo matchea segmentos inequívocos del flow-builder;
// rutas tipo company{id} son uploads comunes y no califican.
func DetectSource(path string) Source {
	lower := strings.ToLower(path)
	if strings.Contains(lower, "flowbuilder") || strings.Contains(lower, "typebot") {
		return SourceFlowBuilder
	}
	return SourceUpload
}

// DetectMediaType maps a MIME type to its media category.
func DetectMediaType(mimetype string) MediaType {
	switch {
	case len(mimetype) >= 6 && mimetype[:6] == "audio/":
		return MediaTypeAudio
	case len(mimetype) >= 6 && mimetype[:6] == "image/":
		return MediaTypeImage
	case len(mimetype) >= 6 && mimetype[:6] == "video/":
		return MediaTypeVideo
	default:
		return MediaTypeDocument
	}
}
