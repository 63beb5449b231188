package usecase

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/flaviokalleu/whaticket/pkg/ffmpeg"
	"github.com/flaviokalleu/whaticket/pkg/mediaworker"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	pkgUtils "github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/flaviokalleu/whaticket/validations"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"
)

// totalSendMetricKey agrega fallos del orquestador que no llegan a un pool.
const totalSendMetricKey = "total_send"

type serviceSendMedia struct {
	mediaPool *mediaworker.MediaPool
	audioPool *mediaworker.AudioPool
	encoder   ffmpeg.Runner
	recorder  *telemetry.Recorder

	sessions domainSendMedia.SessionProvider
	messages domainSendMedia.MessageStore
	contacts domainSendMedia.ContactStore
	tickets  domainSendMedia.TicketStore
	reporter domainSendMedia.ErrorReporter

	publicDir    string
	sendItemsDir string
}

func NewSendMediaService(
	mediaPool *mediaworker.MediaPool,
	audioPool *mediaworker.AudioPool,
	encoder ffmpeg.Runner,
	recorder *telemetry.Recorder,
	sessions domainSendMedia.SessionProvider,
	messages domainSendMedia.MessageStore,
	contacts domainSendMedia.ContactStore,
	tickets domainSendMedia.TicketStore,
	reporter domainSendMedia.ErrorReporter,
	publicDir, sendItemsDir string,
) domainSendMedia.ISendMediaUsecase {
	return &serviceSendMedia{
		mediaPool:    mediaPool,
		audioPool:    audioPool,
		encoder:      encoder,
		recorder:     recorder,
		sessions:     sessions,
		messages:     messages,
		contacts:     contacts,
		tickets:      tickets,
		reporter:     reporter,
		publicDir:    publicDir,
		sendItemsDir: sendItemsDir,
	}
}

// GetMessageOptions arma el payload de protocolo para un archivo: lo enruta al
// pool que corresponde por mimetype, lee los bytes procesados y completa
// caption/flags por categoría.
func (service *serviceSendMedia) GetMessageOptions(ctx context.Context, fileName, path string, companyID uint, body string) (domainSendMedia.MessagePayload, error) {
	start := time.Now()

	payload, err := service.buildPayload(ctx, fileName, path, body, domainSendMedia.SourceUpload)
	if err != nil {
		service.captureFailure(err, time.Since(start))
		if _, ok := err.(pkgError.GenericError); ok {
			return domainSendMedia.MessagePayload{}, err
		}
		return domainSendMedia.MessagePayload{}, pkgError.InternalServerError(fmt.Sprintf("failed to build media payload: %v", err))
	}
	return payload, nil
}

func (service *serviceSendMedia) buildPayload(ctx context.Context, fileName, path, body string, source domainSendMedia.Source) (domainSendMedia.MessagePayload, error) {
	var payload domainSendMedia.MessagePayload

	mimetype := resolveMimetype(fileName, path)
	mediaType := domainSendMedia.DetectMediaType(mimetype)

	info, err := os.Stat(path)
	if err != nil {
		return payload, pkgError.ProcessError(fmt.Sprintf("media file not found: %s", path))
	}
	fileSize := info.Size()

	var processedPath string
	switch mediaType {
	case domainSendMedia.MediaTypeAudio:
		processedPath, err = service.processAudio(ctx, path, mimetype, fileSize)
	default:
		if source == domainSendMedia.SourceFlowBuilder {
			processedPath, err = service.mediaPool.ProcessFlowBuilderMedia(ctx, path, fileName, fileSize, mediaType)
		} else {
			processedPath, err = service.mediaPool.ProcessMedia(ctx, path, fileSize, mediaType)
		}
	}
	if err != nil {
		return payload, err
	}

	data, err := os.ReadFile(processedPath)
	if err != nil {
		return payload, pkgError.ProcessError(fmt.Sprintf("failed to read processed media: %v", err))
	}

	payload = domainSendMedia.MessagePayload{
		Type:     mediaType,
		Data:     data,
		FileName: fileName,
		Mimetype: mimetype,
	}

	switch mediaType {
	case domainSendMedia.MediaTypeAudio:
		// El pool de audio siempre emite mp3 normalizado, nota de voz
		payload.Mimetype = "audio/mpeg"
		payload.PTT = true
	case domainSendMedia.MediaTypeImage:
		payload.Caption = body
		if mimetype == "image/gif" {
			payload.GifPlayback = true
		}
		if mimetype == "image/webp" {
			converted, newName, convErr := convertWebPToPNG(data, fileName)
			if convErr != nil {
				return payload, convErr
			}
			payload.Data = converted
			payload.FileName = newName
			payload.Mimetype = "image/png"
		}
	case domainSendMedia.MediaTypeVideo:
		payload.Caption = body
	case domainSendMedia.MediaTypeDocument:
		payload.Caption = body
	}

	return payload, nil
}

// processAudio remuxa contenedores audio/mp4 a mp3 antes de normalizar, y
// pasa todo por el pool de transcodificación.
func (service *serviceSendMedia) processAudio(ctx context.Context, path, mimetype string, fileSize int64) (string, error) {
	input := path
	if mimetype == "audio/mp4" || mimetype == "audio/x-m4a" {
		remuxed := filepath.Join(service.sendItemsDir, fmt.Sprintf("remux_%s.mp3", uuid.NewString()))
		if err := service.encoder.RemuxToMP3(ctx, path, remuxed); err != nil {
			return "", pkgError.ProcessError(fmt.Sprintf("audio remux failed: %v", err))
		}
		defer pkgUtils.RemoveFile(0, remuxed)
		input = remuxed
	}

	output := filepath.Join(service.sendItemsDir, fmt.Sprintf("audio_%s.mp3", uuid.NewString()))
	return service.audioPool.ProcessAudio(ctx, input, output, mediaworker.PriorityForSize(fileSize))
}

// SendWhatsAppMedia valida, procesa y despacha un archivo hacia el contacto
// del ticket. Mensajes privados se archivan sin salir al wire.
func (service *serviceSendMedia) SendWhatsAppMedia(ctx context.Context, request domainSendMedia.SendMediaRequest) (domainSendMedia.SentMessage, error) {
	start := time.Now()

	sent, err := service.sendWhatsAppMedia(ctx, request)
	if err != nil {
		service.captureFailure(err, time.Since(start))
		if _, ok := err.(pkgError.GenericError); ok {
			return domainSendMedia.SentMessage{}, err
		}
		return domainSendMedia.SentMessage{}, pkgError.InternalServerError(fmt.Sprintf("failed to send media: %v", err))
	}
	return sent, nil
}

func (service *serviceSendMedia) sendWhatsAppMedia(ctx context.Context, request domainSendMedia.SendMediaRequest) (domainSendMedia.SentMessage, error) {
	var sent domainSendMedia.SentMessage

	if err := validations.ValidateSendMedia(ctx, request); err != nil {
		return sent, err
	}

	payload, err := service.buildPayload(ctx, request.FileName, request.FilePath, request.Body, request.Source)
	if err != nil {
		return sent, err
	}

	ticket, err := service.tickets.FindTicket(ctx, request.TicketID)
	if err != nil {
		return sent, pkgError.NotFoundError(fmt.Sprintf("ticket %d not found", request.TicketID))
	}

	if request.IsPrivate {
		return sent, service.archivePrivateMedia(ctx, request, ticket, payload)
	}

	contact, err := service.contacts.FindContact(ctx, ticket.ContactID)
	if err != nil {
		return sent, pkgError.NotFoundError(fmt.Sprintf("contact %d not found", ticket.ContactID))
	}

	session, err := service.sessions.Session(request.CompanyID)
	if err != nil {
		return sent, pkgError.InternalServerError(fmt.Sprintf("no active session for company %d: %v", request.CompanyID, err))
	}

	destination := resolveDestination(contact)
	sent, err = session.SendMedia(ctx, destination, payload)
	if err != nil {
		return sent, err
	}

	logrus.WithFields(logrus.Fields{
		"message_id": sent.ID,
		"ticket_id":  ticket.ID,
		"media_type": payload.Type,
	}).Info("[SEND_MEDIA] Media message dispatched")

	message := domainSendMedia.Message{
		ID:        sent.ID,
		TicketID:  ticket.ID,
		ContactID: contact.ID,
		CompanyID: request.CompanyID,
		Body:      request.Body,
		MediaType: payload.Type,
		MediaPath: payload.FileName,
		FromMe:    true,
		CreatedAt: sent.Timestamp,
	}
	if err := service.messages.CreateMessage(ctx, message); err != nil {
		logrus.Warnf("[SEND_MEDIA] Failed to persist sent message %s: %v", sent.ID, err)
	}
	if err := service.tickets.UpdateTicketLastMessage(ctx, ticket.ID, request.Body); err != nil {
		logrus.Warnf("[SEND_MEDIA] Failed to update ticket %d preview: %v", ticket.ID, err)
	}

	return sent, nil
}

// archivePrivateMedia materializa el archivo en el directorio público del
// tenant y registra el mensaje sin despachar nada por el transporte.
func (service *serviceSendMedia) archivePrivateMedia(ctx context.Context, request domainSendMedia.SendMediaRequest, ticket domainSendMedia.Ticket, payload domainSendMedia.MessagePayload) error {
	companyDir := filepath.Join(service.publicDir, fmt.Sprintf("company%d", request.CompanyID))
	if err := pkgUtils.CreateFolder(companyDir); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to create tenant media dir: %v", err))
	}

	destPath := filepath.Join(companyDir, payload.FileName)
	if err := os.WriteFile(destPath, payload.Data, 0644); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to archive private media: %v", err))
	}

	message := domainSendMedia.Message{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		ContactID: ticket.ContactID,
		CompanyID: request.CompanyID,
		Body:      request.Body,
		MediaType: payload.Type,
		MediaPath: destPath,
		FromMe:    true,
		IsPrivate: true,
		CreatedAt: time.Now(),
	}
	if err := service.messages.CreateMessage(ctx, message); err != nil {
		return pkgError.InternalServerError(fmt.Sprintf("failed to persist private message: %v", err))
	}

	logrus.WithFields(logrus.Fields{
		"ticket_id": ticket.ID,
		"path":      destPath,
	}).Info("[SEND_MEDIA] Private media archived")
	return nil
}

func (service *serviceSendMedia) captureFailure(err error, elapsed time.Duration) {
	if service.reporter != nil {
		service.reporter.CaptureException(err)
	}
	if service.recorder != nil {
		service.recorder.RecordProcessing(totalSendMetricKey, 0, elapsed, false)
	}
	logrus.WithError(err).Error("[SEND_MEDIA] Media pipeline failure")
}

// resolveDestination prefiere el JID guardado del contacto; si no hay, lo
// construye desde el número según sea chat directo o grupo.
func resolveDestination(contact domainSendMedia.Contact) string {
	if contact.RemoteJID != "" {
		return contact.RemoteJID
	}
	if contact.IsGroup {
		return contact.Number + "@g.us"
	}
	return contact.Number + "@s.whatsapp.net"
}

func resolveMimetype(fileName, path string) string {
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
		return byExt
	}
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	return http.DetectContentType(buf[:n])
}

func convertWebPToPNG(data []byte, fileName string) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", pkgError.InternalServerError(fmt.Sprintf("failed to decode WebP image %v", err))
	}

	if strings.HasSuffix(strings.ToLower(fileName), ".webp") {
		fileName = fileName[:len(fileName)-5] + ".png"
	} else {
		fileName = fileName + ".png"
	}

	var pngBuffer bytes.Buffer
	if err := imaging.Encode(&pngBuffer, img, imaging.PNG); err != nil {
		return nil, "", pkgError.InternalServerError(fmt.Sprintf("failed to convert WebP to PNG %v", err))
	}
	return pngBuffer.Bytes(), fileName, nil
}
