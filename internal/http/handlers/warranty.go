package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/garantia/server/internal/apperr"
	"github.com/garantia/server/internal/middleware"
	"github.com/garantia/server/internal/model"
	"github.com/garantia/server/internal/warranty"
)

// WarrantyHandler handles the /warranties endpoints
type WarrantyHandler struct {
	service *warranty.Service
	errorResponder
}

// NewWarrantyHandler creates a new warranty handler
func NewWarrantyHandler(service *warranty.Service, logger *slog.Logger, devMode bool) *WarrantyHandler {
	return &WarrantyHandler{
		service:        service,
		errorResponder: errorResponder{logger: logger, devMode: devMode},
	}
}

// createWarrantyRequest is the request body for POST /warranties
type createWarrantyRequest struct {
	CustomerName      string `json:"customerName"`
	CustomerPhone     string `json:"customerPhone"`
	Address           string `json:"address"`
	OwnerName         string `json:"ownerName"`
	OwnerPhone        string `json:"ownerPhone"`
	Brand             string `json:"brand"`
	Model             string `json:"model"`
	Serial            string `json:"serial"`
	PurchaseDate      string `json:"purchaseDate"`
	InvoiceNumber     string `json:"invoiceNumber"`
	DamagedPart       string `json:"damagedPart"`
	DamagedPartSerial string `json:"damagedPartSerial"`
	DamageDate        string `json:"damageDate"`
	DamageDescription string `json:"damageDescription"`
	CustomerSignature string `json:"customerSignature"`
}

func (req createWarrantyRequest) draft() warranty.Draft {
	return warranty.Draft{
		CustomerName:      req.CustomerName,
		CustomerPhone:     req.CustomerPhone,
		Address:           req.Address,
		OwnerName:         req.OwnerName,
		OwnerPhone:        req.OwnerPhone,
		Brand:             req.Brand,
		Model:             req.Model,
		Serial:            req.Serial,
		PurchaseDate:      req.PurchaseDate,
		InvoiceNumber:     req.InvoiceNumber,
		DamagedPart:       req.DamagedPart,
		DamagedPartSerial: req.DamagedPartSerial,
		DamageDate:        req.DamageDate,
		DamageDescription: req.DamageDescription,
		CustomerSignature: req.CustomerSignature,
	}
}

// updateWarrantyRequest is the request body for PUT /warranties/{id}.
// Omitted fields are unchanged; "" clears a field; assignedToId "" unassigns.
type updateWarrantyRequest struct {
	Status            *string `json:"status"`
	CreditMemo        *string `json:"creditMemo"`
	ReplacementPart   *string `json:"replacementPart"`
	ReplacementSerial *string `json:"replacementSerial"`
	SellerSignature   *string `json:"sellerSignature"`
	ManagementDate    *string `json:"managementDate"`
	TechnicianNotes   *string `json:"technicianNotes"`
	ResolutionDate    *string `json:"resolutionDate"`
	AssignedToID      *string `json:"assignedToId"`
}

func (req updateWarrantyRequest) patch() (warranty.Patch, error) {
	p := warranty.Patch{
		CreditMemo:        req.CreditMemo,
		ReplacementPart:   req.ReplacementPart,
		ReplacementSerial: req.ReplacementSerial,
		SellerSignature:   req.SellerSignature,
		ManagementDate:    req.ManagementDate,
		TechnicianNotes:   req.TechnicianNotes,
		ResolutionDate:    req.ResolutionDate,
	}
	if req.Status != nil {
		status := model.Status(strings.TrimSpace(*req.Status))
		p.Status = &status
	}
	if req.AssignedToID != nil {
		raw := strings.TrimSpace(*req.AssignedToID)
		if raw == "" {
			p.Unassign = true
		} else {
			id, err := uuid.Parse(raw)
			if err != nil {
				return warranty.Patch{}, apperr.Invalid("invalid assignedToId", "assignedToId")
			}
			p.AssignedToID = &id
		}
	}
	return p, nil
}

// warrantyResponse is the claim object in API responses
type warrantyResponse struct {
	ID string `json:"id"`

	CustomerName      string    `json:"customerName"`
	CustomerPhone     string    `json:"customerPhone"`
	Address           string    `json:"address"`
	OwnerName         *string   `json:"ownerName"`
	OwnerPhone        *string   `json:"ownerPhone"`
	Brand             string    `json:"brand"`
	Model             string    `json:"model"`
	Serial            string    `json:"serial"`
	PurchaseDate      time.Time `json:"purchaseDate"`
	InvoiceNumber     string    `json:"invoiceNumber"`
	DamagedPart       string    `json:"damagedPart"`
	DamagedPartSerial *string   `json:"damagedPartSerial"`
	DamageDate        time.Time `json:"damageDate"`
	DamageDescription string    `json:"damageDescription"`
	CustomerSignature string    `json:"customerSignature"`

	Status            model.Status `json:"status"`
	CreditMemo        *string      `json:"creditMemo"`
	ReplacementPart   *string      `json:"replacementPart"`
	ReplacementSerial *string      `json:"replacementSerial"`
	SellerSignature   *string      `json:"sellerSignature"`
	ManagementDate    *time.Time   `json:"managementDate"`
	TechnicianNotes   *string      `json:"technicianNotes"`
	ResolutionDate    *time.Time   `json:"resolutionDate"`

	AssignedToID     *string           `json:"assignedToId"`
	AssignedTo       *assigneeResponse `json:"assignedTo"`
	AssignedAt       *time.Time        `json:"assignedAt"`
	LastReminderSent *time.Time        `json:"lastReminderSent"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// assigneeResponse summarizes the seller a claim is assigned to
type assigneeResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func toWarrantyResponse(c model.Claim, assignees map[uuid.UUID]model.User) warrantyResponse {
	res := warrantyResponse{
		ID:                c.ID.String(),
		CustomerName:      c.CustomerName,
		CustomerPhone:     c.CustomerPhone,
		Address:           c.Address,
		OwnerName:         c.OwnerName,
		OwnerPhone:        c.OwnerPhone,
		Brand:             c.Brand,
		Model:             c.Model,
		Serial:            c.Serial,
		PurchaseDate:      c.PurchaseDate,
		InvoiceNumber:     c.InvoiceNumber,
		DamagedPart:       c.DamagedPart,
		DamagedPartSerial: c.DamagedPartSerial,
		DamageDate:        c.DamageDate,
		DamageDescription: c.DamageDescription,
		CustomerSignature: c.CustomerSignature,
		Status:            c.Status,
		CreditMemo:        c.CreditMemo,
		ReplacementPart:   c.ReplacementPart,
		ReplacementSerial: c.ReplacementSerial,
		SellerSignature:   c.SellerSignature,
		ManagementDate:    c.ManagementDate,
		TechnicianNotes:   c.TechnicianNotes,
		ResolutionDate:    c.ResolutionDate,
		AssignedAt:        c.AssignedAt,
		LastReminderSent:  c.LastReminderSent,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
	if c.AssignedToID != nil {
		id := c.AssignedToID.String()
		res.AssignedToID = &id
		if u, ok := assignees[*c.AssignedToID]; ok {
			res.AssignedTo = &assigneeResponse{Name: u.Name, Email: u.Email}
		}
	}
	return res
}

// statsResponse is the JSON response for GET /warranties/stats
type statsResponse struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Approved  int `json:"approved"`
	Rejected  int `json:"rejected"`
	Completed int `json:"completed"`
	Users     int `json:"users"`
}

// HandleList handles GET /warranties?status=
func (h *WarrantyHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status, err := warranty.ParseStatusFilter(r.URL.Query().Get("status"))
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	claims, err := h.service.List(r.Context(), status)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	assignees, err := h.service.Assignees(r.Context(), claims...)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	out := make([]warrantyResponse, 0, len(claims))
	for _, c := range claims {
		out = append(out, toWarrantyResponse(c, assignees))
	}
	respondWithData(w, http.StatusOK, out)
}

// respondWithClaim writes a single claim with its assignee summary
func (h *WarrantyHandler) respondWithClaim(w http.ResponseWriter, r *http.Request, status int, c model.Claim) {
	assignees, err := h.service.Assignees(r.Context(), c)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithData(w, status, toWarrantyResponse(c, assignees))
}

// HandleCreate handles POST /warranties
func (h *WarrantyHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createWarrantyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}

	c, err := h.service.Create(r.Context(), req.draft())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithClaim(w, r, http.StatusCreated, c)
}

// HandleStats handles GET /warranties/stats
func (h *WarrantyHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	respondWithData(w, http.StatusOK, statsResponse{
		Total:     stats.Total,
		Pending:   stats.Pending,
		Approved:  stats.Approved,
		Rejected:  stats.Rejected,
		Completed: stats.Completed,
		Users:     stats.Users,
	})
}

// HandleGet handles GET /warranties/{id}
func (h *WarrantyHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithClaim(w, r, http.StatusOK, c)
}

// HandleUpdate handles PUT /warranties/{id}
func (h *WarrantyHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	user, ok := middleware.GetUser(r.Context())
	if !ok {
		h.respondWithError(w, r, apperr.New(apperr.CodeUnauthorized, "unauthorized"))
		return
	}

	var req updateWarrantyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	p, err := req.patch()
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	c, err := h.service.UpdateAs(r.Context(), *user, id, p)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}
	h.respondWithClaim(w, r, http.StatusOK, c)
}

// HandleDelete handles DELETE /warranties/{id} (admin only)
func (h *WarrantyHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := claimID(r)
	if err != nil {
		h.respondWithError(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true})
}

// claimID parses the {id} URL parameter. Malformed ids are reported as not found.
func claimID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.NotFound("warranty not found")
	}
	return id, nil
}
