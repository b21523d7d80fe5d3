package http

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/annotations"
)

// annotationRequest is the JSON body of create and update calls.
type annotationRequest struct {
	Title          string `json:"title" form:"title"`
	Description    string `json:"description" form:"description"`
	AnnotationType string `json:"annotation_type" form:"annotation_type"`
	AnnotationDate string `json:"annotation_date" form:"annotation_date"`
	Color          string `json:"color" form:"color"`
}

func annotationErrorResponse(ctx *cartridge.Context, err error, action string) error {
	switch {
	case errors.Is(err, annotations.ErrNotFound):
		return errorResponse(ctx, fiber.StatusNotFound, "Annotation not found")
	case errors.Is(err, annotations.ErrTitleRequired),
		errors.Is(err, annotations.ErrDateRequired),
		errors.Is(err, annotations.ErrInvalidType):
		return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
	default:
		ctx.Logger.Error("Failed to "+action, slog.Any("error", err))
		return errorResponse(ctx, fiber.StatusInternalServerError, "Failed to "+action)
	}
}

func annotationIDParam(ctx *cartridge.Context) (uint, bool) {
	id, err := ctx.ParamsInt("annotationId")
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint(id), true
}

// AnnotationsListAction handles GET /admin/api/funnels/:id/annotations. With
// date_from and date_to only annotations inside the range are returned.
func AnnotationsListAction(ctx *cartridge.Context) error {
	funnel, err := loadFunnel(ctx)
	if err != nil {
		return funnelErrorResponse(ctx, err, "load funnel")
	}
	db := ctx.DB()

	var list []annotations.Annotation
	if ctx.Query("date_from") != "" || ctx.Query("date_to") != "" {
		dateRange, err := dateRangeFromQuery(ctx)
		if err != nil {
			return errorResponse(ctx, fiber.StatusBadRequest, err.Error())
		}
		list, err = annotations.GetAnnotationsForTimeframe(db, funnel.ID, dateRange.From, dateRange.To)
		if err != nil {
			return annotationErrorResponse(ctx, err, "fetch annotations")
		}
	} else {
		list, err = annotations.GetAnnotationsForFunnel(db, funnel.ID)
		if err != nil {
			return annotationErrorResponse(ctx, err, "fetch annotations")
		}
	}

	return ctx.JSON(fiber.Map{"annotations": list})
}

// AnnotationCreateAction handles POST /admin/api/funnels/:id/annotations
func AnnotationCreateAction(ctx *cartridge.Context) error {
	funnel, err := loadFunnel(ctx)
	if err != nil {
		return funnelErrorResponse(ctx, err, "load funnel")
	}

	var req annotationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid request body")
	}

	annotation := &annotations.Annotation{
		FunnelID:       funnel.ID,
		Title:          req.Title,
		Description:    req.Description,
		AnnotationType: annotations.AnnotationType(req.AnnotationType),
		Color:          req.Color,
	}
	if req.AnnotationDate != "" {
		date, ok := annotations.ParseDate(req.AnnotationDate)
		if !ok {
			return errorResponse(ctx, fiber.StatusBadRequest, "Invalid date format")
		}
		annotation.AnnotationDate = date
	}

	if err := annotations.CreateAnnotation(ctx.DB(), annotation); err != nil {
		return annotationErrorResponse(ctx, err, "create annotation")
	}

	ctx.Logger.Info("Annotation created",
		slog.Uint64("id", uint64(annotation.ID)),
		slog.Uint64("funnel_id", uint64(funnel.ID)))

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":    true,
		"annotation": annotation,
	})
}

// AnnotationUpdateAction handles PUT /admin/api/funnels/:id/annotations/:annotationId.
// Blank fields keep their current value, except description.
func AnnotationUpdateAction(ctx *cartridge.Context) error {
	funnelID, err := funnelIDParam(ctx)
	if err != nil {
		return funnelErrorResponse(ctx, err, "update annotation")
	}
	annotationID, ok := annotationIDParam(ctx)
	if !ok {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid annotation ID")
	}
	db := ctx.DB()

	existing, err := annotations.GetAnnotationByID(db, annotationID, funnelID)
	if err != nil {
		return annotationErrorResponse(ctx, err, "update annotation")
	}

	var req annotationRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid request body")
	}

	if req.Title != "" {
		existing.Title = req.Title
	}
	existing.Description = req.Description
	if req.AnnotationType != "" {
		existing.AnnotationType = annotations.AnnotationType(req.AnnotationType)
	}
	if req.Color != "" {
		existing.Color = req.Color
	}
	if req.AnnotationDate != "" {
		date, ok := annotations.ParseDate(req.AnnotationDate)
		if !ok {
			return errorResponse(ctx, fiber.StatusBadRequest, "Invalid date format")
		}
		existing.AnnotationDate = date
	}

	if err := annotations.UpdateAnnotation(db, existing); err != nil {
		return annotationErrorResponse(ctx, err, "update annotation")
	}

	return ctx.JSON(fiber.Map{
		"success":    true,
		"annotation": existing,
	})
}

// AnnotationDeleteAction handles DELETE /admin/api/funnels/:id/annotations/:annotationId
func AnnotationDeleteAction(ctx *cartridge.Context) error {
	funnelID, err := funnelIDParam(ctx)
	if err != nil {
		return funnelErrorResponse(ctx, err, "delete annotation")
	}
	annotationID, ok := annotationIDParam(ctx)
	if !ok {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid annotation ID")
	}

	if err := annotations.DeleteAnnotation(ctx.DB(), annotationID, funnelID); err != nil {
		return annotationErrorResponse(ctx, err, "delete annotation")
	}

	ctx.Logger.Info("Annotation deleted",
		slog.Uint64("id", uint64(annotationID)),
		slog.Uint64("funnel_id", uint64(funnelID)))

	return ctx.JSON(fiber.Map{"success": true})
}
