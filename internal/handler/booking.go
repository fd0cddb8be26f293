package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/kiennguyen/apptravel/internal/policy"
	"github.com/kiennguyen/apptravel/internal/service"
)

// BookingHandler serves bookings and their payment.
type BookingHandler struct {
	Svc *service.BookingService
}

func NewBookingHandler(svc *service.BookingService) *BookingHandler {
	if svc == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Svc: svc}
}

type bookReq struct {
	AdultQuantity *int `json:"adult_quantity" validate:"omitempty,gte=0,lte=1000"`
	ChildQuantity *int `json:"child_quantity" validate:"omitempty,gte=0,lte=1000"`
}

// Book handles POST /tickets/:id/booking. Adults default to 1 and
// children to 0.
func (h *BookingHandler) Book(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req bookReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	adults, children := 1, 0
	if req.AdultQuantity != nil {
		adults = *req.AdultQuantity
	}
	if req.ChildQuantity != nil {
		children = *req.ChildQuantity
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := h.Svc.CreateBooking(ctx, caller(c).UserID, id, adults, children)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

// List handles GET /booking.
func (h *BookingHandler) List(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	list, err := h.Svc.Bookings(ctx, caller(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, list)
}

// Get handles GET /booking/:id.
func (h *BookingHandler) Get(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := h.Svc.Booking(ctx, caller(c), policy.BookingRetrieve, id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

type bookingUpdateReq struct {
	Active *bool `json:"active" validate:"required"`
}

// Update handles PUT/PATCH /booking/:id. Price and quantities are frozen,
// so only the active flag is writable.
func (h *BookingHandler) Update(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req bookingUpdateReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	b, err := h.Svc.SetBookingActive(ctx, caller(c), policy.BookingUpdate, id, *req.Active)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}

// Delete handles DELETE /booking/:id (soft delete).
func (h *BookingHandler) Delete(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if _, err := h.Svc.SetBookingActive(ctx, caller(c), policy.BookingDelete, id, false); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type paymentReq struct {
	PaymentMethodID string `json:"payment_method_id" validate:"max=255"`
	PaymentStatus   *bool  `json:"payment_status"`
}

// Pay handles POST /booking/:id/payment.
func (h *BookingHandler) Pay(c echo.Context) error {
	id, ok := pathID(c)
	if !ok {
		return invalidID(c)
	}
	var req paymentReq
	if handled, err := bindAndValidate(c, &req); handled {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	p, err := h.Svc.AddPayment(ctx, caller(c).UserID, id, service.PaymentInput{
		MethodID: req.PaymentMethodID,
		Status:   req.PaymentStatus,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, p)
}
