package http

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/export"
)

// FunnelExportAction handles GET /admin/api/funnels/:id/export. The
// document is served as an attachment.
func FunnelExportAction(ctx *cartridge.Context) error {
	id, err := funnelIDParam(ctx)
	if err != nil {
		return funnelErrorResponse(ctx, err, "export funnel")
	}

	kind, err := export.ParseKind(ctx.Query("type"))
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
	}

	dateRange, err := dateRangeFromQuery(ctx)
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
	}

	doc, err := export.Export(ctx.DB(), ctx.Logger, export.Request{
		FunnelID: id,
		Kind:     kind,
		Format:   export.ParseFormat(ctx.Query("format")),
		Range:    dateRange,
	})
	if err != nil {
		return funnelErrorResponse(ctx, err, "export funnel")
	}

	ctx.Logger.Info("Funnel exported",
		slog.Uint64("funnel_id", uint64(id)),
		slog.String("file", doc.Filename),
		slog.Int("bytes", len(doc.Body)))

	ctx.Set(fiber.HeaderContentType, doc.ContentType)
	ctx.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
	return ctx.Send(doc.Body)
}
