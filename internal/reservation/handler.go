package reservation

import (
	"fmt"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servelist/backend/internal/middleware"
	"github.com/servelist/backend/internal/models"
	"github.com/servelist/backend/pkg/response"
)

// CreateServiceRequest is the body for POST /services.
type CreateServiceRequest struct {
	Date        string `json:"date" binding:"required,isodate"`
	Capacity    *int   `json:"capacity" binding:"required"`
	Description string `json:"description"`
}

// UpdateCapacityRequest is the body for PATCH /services/:id.
type UpdateCapacityRequest struct {
	Capacity *int `json:"capacity" binding:"required"`
}

// AddVolunteerRequest is the body for POST /volunteers.
type AddVolunteerRequest struct {
	Name      string `json:"name" binding:"required"`
	ServiceID string `json:"service_id" binding:"required"`
}

var (
	registerOnce sync.Once
	registerErr  error
)

// RegisterValidators installs the custom binding tags used by request bodies
// on gin's validator. The result of the first call is returned on every call.
func RegisterValidators() error {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			registerErr = fmt.Errorf("binding engine is %T, want *validator.Validate", binding.Validator.Engine())
			return
		}
		registerErr = v.RegisterValidation("isodate", isoDate)
	})
	return registerErr
}

func isoDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(models.DateLayout, fl.Field().String())
	return err == nil
}

// Handler serves the reservation endpoints.
type Handler struct {
	manager *Manager
	logger  *zap.Logger
}

// NewHandler creates a reservation handler.
func NewHandler(manager *Manager, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := RegisterValidators(); err != nil {
		panic(fmt.Sprintf("reservation: register validators: %v", err))
	}
	return &Handler{manager: manager, logger: logger}
}

// Register mounts the routes on api; admin guards the privileged ones and
// optionalAdmin marks admin callers without rejecting anyone.
func (h *Handler) Register(api *gin.RouterGroup, admin, optionalAdmin gin.HandlerFunc) {
	api.GET("/services", h.ListServices)
	api.POST("/services", admin, h.CreateService)
	api.PATCH("/services/:id", admin, h.UpdateCapacity)
	api.DELETE("/services/:id", admin, h.DeleteService)

	api.GET("/volunteers", h.ListVolunteers)
	api.GET("/volunteers/mine", h.ListMine)
	api.POST("/volunteers", h.AddVolunteer)
	api.DELETE("/volunteers/:id", optionalAdmin, h.DeleteVolunteer)

	api.GET("/snapshot", h.Snapshot)
}

// ListServices handles GET /services.
func (h *Handler) ListServices(c *gin.Context) {
	list, err := h.manager.ListServices(c.Request.Context())
	if err != nil {
		h.fail(c, "list services", err)
		return
	}
	response.OK(c, list)
}

// CreateService handles POST /services (admin).
func (h *Handler) CreateService(c *gin.Context) {
	var req CreateServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.manager.CreateService(c.Request.Context(), req.Date, *req.Capacity, req.Description)
	if err != nil {
		h.fail(c, "create service", err)
		return
	}
	response.Created(c, s)
}

// UpdateCapacity handles PATCH /services/:id (admin).
func (h *Handler) UpdateCapacity(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid service id")
		return
	}
	var req UpdateCapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.manager.UpdateCapacity(c.Request.Context(), id, *req.Capacity)
	if err != nil {
		h.fail(c, "update capacity", err)
		return
	}
	response.OK(c, s)
}

// DeleteService handles DELETE /services/:id (admin).
func (h *Handler) DeleteService(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid service id")
		return
	}
	if err := h.manager.DeleteService(c.Request.Context(), id); err != nil {
		h.fail(c, "delete service", err)
		return
	}
	response.NoContent(c)
}

// ListVolunteers handles GET /volunteers.
func (h *Handler) ListVolunteers(c *gin.Context) {
	list, err := h.manager.ListVolunteers(c.Request.Context())
	if err != nil {
		h.fail(c, "list volunteers", err)
		return
	}
	response.OK(c, list)
}

// ListMine handles GET /volunteers/mine for the caller's X-Client-ID.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.manager.ListVolunteersByClient(c.Request.Context(), middleware.GetClientID(c))
	if err != nil {
		h.fail(c, "list own volunteers", err)
		return
	}
	response.OK(c, list)
}

// AddVolunteer handles POST /volunteers.
func (h *Handler) AddVolunteer(c *gin.Context) {
	var req AddVolunteerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	serviceID, err := uuid.Parse(req.ServiceID)
	if err != nil {
		response.BadRequest(c, "invalid service id")
		return
	}
	v, err := h.manager.AddVolunteer(c.Request.Context(), req.Name, serviceID, middleware.GetClientID(c))
	if err != nil {
		h.fail(c, "add volunteer", err)
		return
	}
	response.Created(c, v)
}

// DeleteVolunteer handles DELETE /volunteers/:id (owner or admin).
func (h *Handler) DeleteVolunteer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid volunteer id")
		return
	}
	actor := Actor{ClientID: middleware.GetClientID(c), Admin: middleware.IsAdmin(c)}
	if err := h.manager.DeleteVolunteer(c.Request.Context(), id, actor); err != nil {
		h.fail(c, "delete volunteer", err)
		return
	}
	response.NoContent(c)
}

// Snapshot handles GET /snapshot.
func (h *Handler) Snapshot(c *gin.Context) {
	snap, err := h.manager.Snapshot(c.Request.Context())
	if err != nil {
		h.fail(c, "snapshot", err)
		return
	}
	response.OK(c, snap)
}

func (h *Handler) fail(c *gin.Context, op string, err error) {
	if !IsBusinessError(err) {
		h.logger.Error(op, zap.Error(err))
	}
	response.Error(c, err)
}
