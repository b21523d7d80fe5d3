package http

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"funneltrack/internal/funnels"
)

// funnelRequest is the body of create and update calls. Absent fields stay
// nil so an update only touches what was sent.
type funnelRequest struct {
	Name        *string               `json:"name"`
	Description *string               `json:"description"`
	Status      *string               `json:"status"`
	Steps       *[]funnels.StepParams `json:"steps"`
}

func (r funnelRequest) steps() (*[]funnels.StepInput, error) {
	if r.Steps == nil {
		return nil, nil
	}
	inputs, err := funnels.StepInputsFromParams(*r.Steps)
	if err != nil {
		return nil, err
	}
	return &inputs, nil
}

// FunnelsListAction handles GET /admin/api/funnels
func FunnelsListAction(ctx *cartridge.Context) error {
	params := funnels.ListParams{
		Page:    ctx.QueryInt("page", 1),
		PerPage: ctx.QueryInt("per_page", 20),
		Search:  ctx.Query("search"),
		OrderBy: ctx.Query("orderby"),
		Order:   ctx.Query("order"),
		Status:  funnels.Status(ctx.Query("status")),
	}

	result, err := funnels.ListFunnels(ctx.DB(), params)
	if err != nil {
		return funnelErrorResponse(ctx, err, "list funnels")
	}
	return ctx.JSON(result)
}

// FunnelCreateAction handles POST /admin/api/funnels
func FunnelCreateAction(ctx *cartridge.Context) error {
	var req funnelRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid request body")
	}

	steps, err := req.steps()
	if err != nil {
		return funnelErrorResponse(ctx, err, "create funnel")
	}

	input := funnels.CreateFunnelInput{}
	if req.Name != nil {
		input.Name = *req.Name
	}
	if req.Description != nil {
		input.Description = *req.Description
	}
	if req.Status != nil {
		input.Status = funnels.Status(*req.Status)
	}
	if steps != nil {
		input.Steps = *steps
	}

	funnel, err := funnels.CreateFunnel(ctx.DB(), ctx.Logger, input)
	if err != nil {
		return funnelErrorResponse(ctx, err, "create funnel")
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"funnel":  funnel,
	})
}

// FunnelShowAction handles GET /admin/api/funnels/:id
func FunnelShowAction(ctx *cartridge.Context) error {
	id, err := funnelIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid funnel ID")
	}

	funnel, err := funnels.GetFunnel(ctx.DB(), id, true)
	if err != nil {
		return funnelErrorResponse(ctx, err, "load funnel")
	}
	return ctx.JSON(funnel)
}

// FunnelUpdateAction handles PUT /admin/api/funnels/:id. Sending steps
// replaces the whole step list.
func FunnelUpdateAction(ctx *cartridge.Context) error {
	id, err := funnelIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid funnel ID")
	}

	var req funnelRequest
	if err := ctx.BodyParser(&req); err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid request body")
	}

	steps, err := req.steps()
	if err != nil {
		return funnelErrorResponse(ctx, err, "update funnel")
	}

	patch := funnels.UpdateFunnelPatch{
		Name:        req.Name,
		Description: req.Description,
		Steps:       steps,
	}
	if req.Status != nil {
		status := funnels.Status(*req.Status)
		patch.Status = &status
	}

	funnel, err := funnels.UpdateFunnel(ctx.DB(), ctx.Logger, id, patch)
	if err != nil {
		return funnelErrorResponse(ctx, err, "update funnel")
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"funnel":  funnel,
	})
}

// FunnelDeleteAction handles DELETE /admin/api/funnels/:id
func FunnelDeleteAction(ctx *cartridge.Context) error {
	id, err := funnelIDParam(ctx)
	if err != nil {
		return errorResponse(ctx, fiber.StatusBadRequest, "Invalid funnel ID")
	}

	if err := funnels.DeleteFunnel(ctx.DB(), ctx.Logger, id); err != nil {
		return funnelErrorResponse(ctx, err, "delete funnel")
	}

	ctx.Logger.Info("Funnel deleted via admin API", slog.Uint64("funnel_id", uint64(id)))
	return ctx.JSON(fiber.Map{"success": true})
}
