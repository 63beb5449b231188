package rest

import (
	"fmt"
	"path/filepath"
	"strings"

	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/flaviokalleu/whaticket/pkg/utils"
	"github.com/gofiber/fiber/v2"
	fiberUtils "github.com/gofiber/fiber/v2/utils"
	"github.com/valyala/fasthttp"
)

type Send struct {
	Service      domainSendMedia.ISendMediaUsecase
	SendItemsDir string
}

func InitRestSend(app fiber.Router, service domainSendMedia.ISendMediaUsecase, sendItemsDir string) Send {
	rest := Send{Service: service, SendItemsDir: sendItemsDir}
	app.Post("/send/media", rest.SendMedia)

	return rest
}

type sendMediaForm struct {
	TicketID    uint   `form:"ticket_id"`
	CompanyID   uint   `form:"company_id"`
	Body        string `form:"body"`
	IsPrivate   bool   `form:"is_private"`
	IsForwarded bool   `form:"is_forwarded"`
	Source      string `form:"source"`
}

func (handler *Send) SendMedia(c *fiber.Ctx) error {
	var form sendMediaForm
	err := c.BodyParser(&form)
	utils.PanicIfNeeded(err)

	file, err := c.FormFile("file")
	if err != nil {
		utils.PanicIfNeeded(pkgError.ValidationError("media file is required"))
	}

	// Guardar el multipart en senditems antes de procesarlo
	savedPath := filepath.Join(handler.SendItemsDir, fmt.Sprintf("%s_%s", fiberUtils.UUIDv4(), file.Filename))
	err = fasthttp.SaveMultipartFile(file, savedPath)
	utils.PanicIfNeeded(err)
	defer utils.RemoveFile(0, savedPath)

	// La procedencia la declara el caller; si no viene, se infiere de la ruta
	source := domainSendMedia.DetectSource(savedPath)
	if strings.EqualFold(form.Source, string(domainSendMedia.SourceFlowBuilder)) {
		source = domainSendMedia.SourceFlowBuilder
	}

	request := domainSendMedia.SendMediaRequest{
		TicketID:    form.TicketID,
		CompanyID:   form.CompanyID,
		FilePath:    savedPath,
		FileName:    file.Filename,
		Mimetype:    file.Header.Get("Content-Type"),
		FileSize:    file.Size,
		Body:        form.Body,
		IsPrivate:   form.IsPrivate,
		IsForwarded: form.IsForwarded,
		Source:      source,
	}

	sent, err := handler.Service.SendWhatsAppMedia(c.UserContext(), request)
	utils.PanicIfNeeded(err)

	message := "Media message sent successfully"
	if request.IsPrivate {
		message = "Private media archived successfully"
	}

	return c.JSON(utils.ResponseData{
		Status:  200,
		Code:    "SUCCESS",
		Message: message,
		Results: sent,
	})
}
