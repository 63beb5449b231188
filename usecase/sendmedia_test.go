package usecase

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	"github.com/flaviokalleu/whaticket/infrastructure/mediacache"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/flaviokalleu/whaticket/pkg/mediaworker"
	"github.com/flaviokalleu/whaticket/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes de colaboradores externos ---

type fakeRunner struct {
	normalizeCalls int
	remuxCalls     int
}

func (f *fakeRunner) Normalize(ctx context.Context, inputPath, outputPath string) error {
	f.normalizeCalls++
	data, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0644)
}

func (f *fakeRunner) RemuxToMP3(ctx context.Context, inputPath, outputPath string) error {
	f.remuxCalls++
	return f.Normalize(ctx, inputPath, outputPath)
}

type fakeSession struct {
	destinations []string
	payloads     []domainSendMedia.MessagePayload
	err          error
}

func (f *fakeSession) SendMedia(ctx context.Context, destination string, payload domainSendMedia.MessagePayload) (domainSendMedia.SentMessage, error) {
	f.destinations = append(f.destinations, destination)
	f.payloads = append(f.payloads, payload)
	if f.err != nil {
		return domainSendMedia.SentMessage{}, f.err
	}
	return domainSendMedia.SentMessage{ID: "MSG-001", Timestamp: time.Now()}, nil
}

type fakeSessionProvider struct {
	session *fakeSession
	err     error
}

func (f *fakeSessionProvider) Session(companyID uint) (domainSendMedia.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeMessageStore struct {
	created []domainSendMedia.Message
	err     error
}

func (f *fakeMessageStore) CreateMessage(ctx context.Context, msg domainSendMedia.Message) error {
	f.created = append(f.created, msg)
	return f.err
}

type fakeContactStore struct {
	contact domainSendMedia.Contact
	err     error
}

func (f *fakeContactStore) FindContact(ctx context.Context, id uint) (domainSendMedia.Contact, error) {
	return f.contact, f.err
}

type fakeTicketStore struct {
	ticket      domainSendMedia.Ticket
	err         error
	lastMessage string
}

func (f *fakeTicketStore) FindTicket(ctx context.Context, id uint) (domainSendMedia.Ticket, error) {
	return f.ticket, f.err
}

func (f *fakeTicketStore) UpdateTicketLastMessage(ctx context.Context, ticketID uint, lastMessage string) error {
	f.lastMessage = lastMessage
	return nil
}

type fakeReporter struct {
	captured []error
}

func (f *fakeReporter) CaptureException(err error) {
	f.captured = append(f.captured, err)
}

type fixture struct {
	service   domainSendMedia.ISendMediaUsecase
	runner    *fakeRunner
	session   *fakeSession
	messages  *fakeMessageStore
	contacts  *fakeContactStore
	tickets   *fakeTicketStore
	reporter  *fakeReporter
	recorder  *telemetry.Recorder
	publicDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	recorder := telemetry.NewRecorder()
	cache, err := mediacache.NewStore(t.TempDir(), 100*1024*1024, time.Hour, recorder)
	require.NoError(t, err)
	t.Cleanup(cache.Shutdown)

	runner := &fakeRunner{}
	mediaPool := mediaworker.NewMediaPool(cache, recorder, 2)
	audioPool := mediaworker.NewAudioPool(cache, recorder, runner, 2)

	f := &fixture{
		runner:    runner,
		session:   &fakeSession{},
		messages:  &fakeMessageStore{},
		contacts:  &fakeContactStore{contact: domainSendMedia.Contact{ID: 7, Number: "5511999990000", RemoteJID: "5511999990000@s.whatsapp.net"}},
		tickets:   &fakeTicketStore{ticket: domainSendMedia.Ticket{ID: 10, ContactID: 7, CompanyID: 1, Status: "open"}},
		reporter:  &fakeReporter{},
		recorder:  recorder,
		publicDir: t.TempDir(),
	}
	f.service = NewSendMediaService(
		mediaPool, audioPool, runner, recorder,
		&fakeSessionProvider{session: f.session},
		f.messages, f.contacts, f.tickets, f.reporter,
		f.publicDir, t.TempDir(),
	)
	return f
}

func writeUpload(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func imageBytes(size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func mp3Bytes(size int) []byte {
	data := make([]byte, size)
	copy(data, []byte("ID3"))
	return data
}

// Test 1: Payload de imagen con caption y bytes del archivo procesado
func TestGetMessageOptions_Image(t *testing.T) {
	f := newFixture(t)
	data := imageBytes(5000)
	path := writeUpload(t, "photo.png", data)

	payload, err := f.service.GetMessageOptions(context.Background(), "photo.png", path, 1, "mira esto")
	require.NoError(t, err)

	assert.Equal(t, domainSendMedia.MediaTypeImage, payload.Type)
	assert.Equal(t, "mira esto", payload.Caption)
	assert.Equal(t, "photo.png", payload.FileName)
	assert.Equal(t, data, payload.Data)
	assert.False(t, payload.PTT)
}

// Test 2: Audio pasa por el pool de transcodificación y sale como nota de voz
func TestGetMessageOptions_Audio(t *testing.T) {
	f := newFixture(t)
	path := writeUpload(t, "voice.mp3", mp3Bytes(3000))

	payload, err := f.service.GetMessageOptions(context.Background(), "voice.mp3", path, 1, "")
	require.NoError(t, err)

	assert.Equal(t, domainSendMedia.MediaTypeAudio, payload.Type)
	assert.Equal(t, "audio/mpeg", payload.Mimetype)
	assert.True(t, payload.PTT)
	assert.Equal(t, 1, f.runner.normalizeCalls)
	assert.Zero(t, f.runner.remuxCalls)
}

// Test 3: Envío feliz: despacha al JID guardado, persiste y actualiza el ticket
func TestSendWhatsAppMedia_HappyPath(t *testing.T) {
	f := newFixture(t)
	path := writeUpload(t, "photo.png", imageBytes(5000))

	sent, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID:  10,
		CompanyID: 1,
		FilePath:  path,
		FileName:  "photo.png",
		Mimetype:  "image/png",
		FileSize:  5000,
		Body:      "hola",
		Source:    domainSendMedia.SourceUpload,
	})
	require.NoError(t, err)
	assert.Equal(t, "MSG-001", sent.ID)

	require.Len(t, f.session.destinations, 1)
	assert.Equal(t, "5511999990000@s.whatsapp.net", f.session.destinations[0])

	require.Len(t, f.messages.created, 1)
	assert.Equal(t, "MSG-001", f.messages.created[0].ID)
	assert.True(t, f.messages.created[0].FromMe)
	assert.Equal(t, "hola", f.tickets.lastMessage)
}

// Test 4: Sin JID guardado, el destino se arma desde el número
func TestSendWhatsAppMedia_DestinationFallback(t *testing.T) {
	f := newFixture(t)
	f.contacts.contact = domainSendMedia.Contact{ID: 7, Number: "5511888880000"}
	path := writeUpload(t, "photo.png", imageBytes(5000))

	_, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 10, CompanyID: 1, FilePath: path, FileName: "photo.png",
		Mimetype: "image/png", FileSize: 5000,
	})
	require.NoError(t, err)
	require.Len(t, f.session.destinations, 1)
	assert.Equal(t, "5511888880000@s.whatsapp.net", f.session.destinations[0])

	// Grupo
	f.contacts.contact = domainSendMedia.Contact{ID: 7, Number: "120363000000000000", IsGroup: true}
	_, err = f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 10, CompanyID: 1, FilePath: path, FileName: "photo.png",
		Mimetype: "image/png", FileSize: 5000,
	})
	require.NoError(t, err)
	assert.Equal(t, "120363000000000000@g.us", f.session.destinations[1])
}

// Test 5: Mensaje privado se archiva en el directorio del tenant, sin envío
func TestSendWhatsAppMedia_PrivateMessage(t *testing.T) {
	f := newFixture(t)
	data := imageBytes(5000)
	path := writeUpload(t, "interno.png", data)

	_, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 10, CompanyID: 1, FilePath: path, FileName: "interno.png",
		Mimetype: "image/png", FileSize: 5000, Body: "nota interna", IsPrivate: true,
	})
	require.NoError(t, err)

	assert.Empty(t, f.session.destinations, "los privados no salen al wire")

	archived := filepath.Join(f.publicDir, "company1", "interno.png")
	got, err := os.ReadFile(archived)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.Len(t, f.messages.created, 1)
	assert.True(t, f.messages.created[0].IsPrivate)
	assert.Equal(t, archived, f.messages.created[0].MediaPath)
}

// Test 6: Imagen truncada se rechaza con error de validación y se reporta
func TestSendWhatsAppMedia_ValidationRejection(t *testing.T) {
	f := newFixture(t)
	path := writeUpload(t, "rota.png", imageBytes(50))

	_, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 10, CompanyID: 1, FilePath: path, FileName: "rota.png",
		Mimetype: "image/png", FileSize: 50,
	})
	require.Error(t, err)
	assert.IsType(t, pkgError.ValidationError(""), err)
	assert.Len(t, f.reporter.captured, 1)
	assert.Empty(t, f.session.destinations)
}

// Test 7: Ticket inexistente da not found sin tocar el transporte
func TestSendWhatsAppMedia_TicketNotFound(t *testing.T) {
	f := newFixture(t)
	f.tickets.err = pkgError.NotFoundError("no ticket")
	path := writeUpload(t, "photo.png", imageBytes(5000))

	_, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 99, CompanyID: 1, FilePath: path, FileName: "photo.png",
		Mimetype: "image/png", FileSize: 5000,
	})
	require.Error(t, err)
	assert.IsType(t, pkgError.NotFoundError(""), err)
	assert.Empty(t, f.session.destinations)
}

// Test 8: Falla del transporte se reporta y registra en telemetría
func TestSendWhatsAppMedia_TransportFailure(t *testing.T) {
	f := newFixture(t)
	f.session.err = pkgError.InternalServerError("socket closed")
	path := writeUpload(t, "photo.png", imageBytes(5000))

	_, err := f.service.SendWhatsAppMedia(context.Background(), domainSendMedia.SendMediaRequest{
		TicketID: 10, CompanyID: 1, FilePath: path, FileName: "photo.png",
		Mimetype: "image/png", FileSize: 5000,
	})
	require.Error(t, err)
	assert.Len(t, f.reporter.captured, 1)
	assert.Empty(t, f.messages.created)
}
