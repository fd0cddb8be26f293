package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/kiennguyen/apptravel/internal/media"
	"github.com/kiennguyen/apptravel/internal/repository"
)

// CatalogHandler serves categories, tours and tickets. Reads are open;
// writes are gated to super-users by the router.
type CatalogHandler struct {
	Categories *repository.CategoryRepo
	Tours      *repository.TourRepo
	Tickets    *repository.TicketRepo
	Media      media.Store
	PageSize   int
}

func NewCatalogHandler(cats *repository.CategoryRepo, tours *repository.TourRepo, tickets *repository.TicketRepo,
	store media.Store, pageSize int) *CatalogHandler {
	if cats == nil || tours == nil || tickets == nil || store == nil {
		panic("nil dependency passed to NewCatalogHandler")
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return &CatalogHandler{Categories: cats, Tours: tours, Tickets: tickets, Media: store, PageSize: pageSize}
}

// ----- categories -----

type categoryReq struct {
	Name string `json:"name" validate:"required,max=100"`
}

// ListCategories handles GET /categories.
func (h *CatalogHandler) ListCategories(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Categories.List(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// CreateCategory handles POST /categories.
func (h *CatalogHandler) CreateCategory(c echo.Context) error {
	var req categoryReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cat, err := h.Categories.Create(ctx, req.Name)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, cat)
}

// UpdateCategory handles PUT/PATCH /categories/:id. The name is the only
// writable field, so both verbs require it.
func (h *CatalogHandler) UpdateCategory(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req categoryReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	cat, err := h.Categories.Rename(ctx, id, req.Name)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, cat)
}

// DeleteCategory handles DELETE /categories/:id.
func (h *CatalogHandler) DeleteCategory(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Categories.Delete(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// CategoryTours handles GET /categories/:id/tours.
func (h *CatalogHandler) CategoryTours(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if _, err := h.Categories.GetByID(ctx, id); err != nil {
		return respondError(c, err)
	}
	tours, err := h.Tours.ListActiveByCategory(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tours)
}

// ----- tours -----

// ListTours handles GET /tours?q=&category_id=1,2&page=N.
func (h *CatalogHandler) ListTours(c echo.Context) error {
	q := repository.TourSearchQuery{
		Q:        strings.TrimSpace(c.QueryParam("q")),
		Page:     1,
		PageSize: h.PageSize,
	}
	if raw := strings.TrimSpace(c.QueryParam("category_id")); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			id, err := strconv.ParseUint(p, 10, 64)
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": "category_id must be a comma separated list of ids"})
			}
			q.CategoryIDs = append(q.CategoryIDs, id)
		}
	}
	if raw := c.QueryParam("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "page must be a positive integer"})
		}
		q.Page = n
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	tours, total, err := h.Tours.Search(ctx, q)
	if err != nil {
		return respondError(c, err)
	}
	if q.Page > 1 && len(tours) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "invalid page"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"data":      tours,
		"total":     total,
		"page":      q.Page,
		"page_size": q.PageSize,
	})
}

// GetTour handles GET /tours/:id.
func (h *CatalogHandler) GetTour(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tours.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

type tourReq struct {
	CategoryID        *uint64   `json:"category_id"`
	Name              *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Description       *string   `json:"description"`
	Image             *string   `json:"image" validate:"omitempty,max=512"`
	RemainingQuantity *uint32   `json:"remaining_quantity"`
	Active            *bool     `json:"active"`
	Tags              *[]string `json:"tags" validate:"omitempty,dive,max=50"`
	upload            *string
}

// readTourReq accepts JSON or multipart. A multipart "image" file is
// stored through the media store once the fields validate, and replaces
// the image URL.
func (h *CatalogHandler) readTourReq(c echo.Context) (tourReq, bool, error) {
	var req tourReq
	if isMultipart(c) {
		f, err := newFormFields(c)
		if err != nil {
			return req, true, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid multipart body"})
		}
		req = tourReq{
			CategoryID:        f.uint64("category_id"),
			Name:              f.str("name"),
			Description:       f.str("description"),
			RemainingQuantity: f.uint32("remaining_quantity"),
			Active:            f.bool("active"),
			Tags:              f.list("tags"),
		}
		if len(f.errs) > 0 {
			return req, true, validationFailed(c, f.errs)
		}
		if err := c.Validate(&req); err != nil {
			return req, true, validationFailed(c, fieldMessages(err))
		}
		if fh := f.file("image"); fh != nil {
			url, err := saveUpload(c.Request().Context(), h.Media, "tours", fh)
			if err != nil {
				return req, true, respondError(c, err)
			}
			req.Image, req.upload = &url, &url
		}
		return req, false, nil
	}
	handled, err := bindAndValidate(c, &req)
	return req, handled, err
}

func (r tourReq) input() repository.TourInput {
	in := repository.TourInput{
		CategoryID:        r.CategoryID,
		Name:              r.Name,
		Description:       r.Description,
		Image:             r.Image,
		RemainingQuantity: r.RemainingQuantity,
		Active:            r.Active,
	}
	if r.Tags != nil {
		in.Tags = *r.Tags
		in.ReplaceTags = true
	}
	return in
}

func (r tourReq) missingForFullWrite() map[string]string {
	missing := map[string]string{}
	if r.CategoryID == nil {
		missing["category_id"] = "this field is required"
	}
	if r.Name == nil {
		missing["name"] = "this field is required"
	}
	return missing
}

// CreateTour handles POST /tours.
func (h *CatalogHandler) CreateTour(c echo.Context) error {
	req, handled, err := h.readTourReq(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.upload)
		}
	}()
	if missing := req.missingForFullWrite(); len(missing) > 0 {
		return validationFailed(c, missing)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tours.Create(ctx, req.input())
	if err != nil {
		return respondError(c, err)
	}
	written = true
	return c.JSON(http.StatusCreated, t)
}

// UpdateTour handles PUT (full) and PATCH (partial) /tours/:id.
func (h *CatalogHandler) UpdateTour(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	req, handled, err := h.readTourReq(c)
	if handled {
		return err
	}
	written := false
	defer func() {
		if !written {
			dropUpload(h.Media, req.upload)
		}
	}()
	if c.Request().Method == http.MethodPut {
		if missing := req.missingForFullWrite(); len(missing) > 0 {
			return validationFailed(c, missing)
		}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tours.Update(ctx, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	written = true
	return c.JSON(http.StatusOK, t)
}

// DeleteTour handles DELETE /tours/:id (soft delete).
func (h *CatalogHandler) DeleteTour(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Tours.Deactivate(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TourTickets handles GET /tours/:id/tickets.
func (h *CatalogHandler) TourTickets(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if _, err := h.Tours.GetByID(ctx, id); err != nil {
		return respondError(c, err)
	}
	tickets, err := h.Tickets.ListActiveByTour(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, tickets)
}

// ----- tickets -----

type ticketReq struct {
	TourID *uint64          `json:"tour_id"`
	Name   *string          `json:"name" validate:"omitempty,min=1,max=255"`
	Price  *decimal.Decimal `json:"price"`
	Active *bool            `json:"active"`
}

func (r ticketReq) check(full bool) map[string]string {
	fields := map[string]string{}
	if full {
		if r.TourID == nil {
			fields["tour_id"] = "this field is required"
		}
		if r.Name == nil {
			fields["name"] = "this field is required"
		}
		if r.Price == nil {
			fields["price"] = "this field is required"
		}
	}
	if r.Price != nil && r.Price.IsNegative() {
		fields["price"] = "must be greater than or equal to 0"
	}
	return fields
}

func (r ticketReq) input() repository.TicketInput {
	return repository.TicketInput{TourID: r.TourID, Name: r.Name, Price: r.Price, Active: r.Active}
}

// ListTickets handles GET /tickets.
func (h *CatalogHandler) ListTickets(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Tickets.List(ctx)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// GetTicket handles GET /tickets/:id.
func (h *CatalogHandler) GetTicket(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tickets.GetByID(ctx, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// CreateTicket handles POST /tickets.
func (h *CatalogHandler) CreateTicket(c echo.Context) error {
	var req ticketReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	if fields := req.check(true); len(fields) > 0 {
		return validationFailed(c, fields)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tickets.Create(ctx, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, t)
}

// UpdateTicket handles PUT (full) and PATCH (partial) /tickets/:id.
func (h *CatalogHandler) UpdateTicket(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req ticketReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	if fields := req.check(c.Request().Method == http.MethodPut); len(fields) > 0 {
		return validationFailed(c, fields)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	t, err := h.Tickets.Update(ctx, id, req.input())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

// DeleteTicket handles DELETE /tickets/:id (soft delete).
func (h *CatalogHandler) DeleteTicket(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Tickets.Deactivate(ctx, id); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
