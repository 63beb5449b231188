package validations

import (
	"context"
	"fmt"

	"github.com/flaviokalleu/whaticket/config"
	domainSendMedia "github.com/flaviokalleu/whaticket/domains/sendmedia"
	pkgError "github.com/flaviokalleu/whaticket/pkg/error"
	"github.com/dustin/go-humanize"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Pisos por categoría: descartan archivos truncados antes de encolar trabajo.
var minMediaSize = map[domainSendMedia.MediaType]int64{
	domainSendMedia.MediaTypeImage: 100,
	domainSendMedia.MediaTypeVideo: 10000,
	domainSendMedia.MediaTypeAudio: 1000,
}

func ValidateSendMedia(ctx context.Context, request domainSendMedia.SendMediaRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.TicketID, validation.Required),
		validation.Field(&request.CompanyID, validation.Required),
		validation.Field(&request.FilePath, validation.Required),
		validation.Field(&request.FileName, validation.Required),
		validation.Field(&request.Mimetype, validation.Required),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}

	mediaType := domainSendMedia.DetectMediaType(request.Mimetype)
	if floor, ok := minMediaSize[mediaType]; ok && request.FileSize < floor {
		return pkgError.ValidationError(fmt.Sprintf(
			"%s file too small (%s, minimum %s), likely truncated upload",
			mediaType, humanize.Bytes(uint64(request.FileSize)), humanize.Bytes(uint64(floor))))
	}

	if ceiling := maxMediaSize(mediaType); request.FileSize > ceiling {
		return pkgError.ValidationError(fmt.Sprintf(
			"%s file exceeds the %s limit (got %s)",
			mediaType, humanize.Bytes(uint64(ceiling)), humanize.Bytes(uint64(request.FileSize))))
	}

	return nil
}

func maxMediaSize(mediaType domainSendMedia.MediaType) int64 {
	if config.Global != nil {
		switch mediaType {
		case domainSendMedia.MediaTypeImage:
			return config.Global.Media.MaxImageSize
		case domainSendMedia.MediaTypeVideo:
			return config.Global.Media.MaxVideoSize
		case domainSendMedia.MediaTypeAudio:
			return config.Global.Media.MaxAudioSize
		default:
			return config.Global.Media.MaxDocumentSize
		}
	}

	switch mediaType {
	case domainSendMedia.MediaTypeImage:
		return 20 * 1024 * 1024
	case domainSendMedia.MediaTypeVideo, domainSendMedia.MediaTypeDocument:
		return 100 * 1024 * 1024
	case domainSendMedia.MediaTypeAudio:
		return 50 * 1024 * 1024
	}
	return 100 * 1024 * 1024
}
