// Package billingapi provides HTTP endpoints for spending permissions and
// streaming sessions.
package billingapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/zecmeter/internal/billingstore"
	"github.com/mbd888/zecmeter/internal/chain"
	"github.com/mbd888/zecmeter/internal/decimal"
	"github.com/mbd888/zecmeter/internal/permission"
	"github.com/mbd888/zecmeter/internal/session"
	"github.com/mbd888/zecmeter/internal/validation"
)

// Handler provides HTTP endpoints for permissions and sessions.
type Handler struct {
	permissions *permission.Manager
	sessions    *session.Engine
	gateway     *chain.Client
}

// NewHandler creates a new billing API handler.
func NewHandler(permissions *permission.Manager, sessions *session.Engine, gateway *chain.Client) *Handler {
	return &Handler{permissions: permissions, sessions: sessions, gateway: gateway}
}

// RegisterRoutes wires all billing endpoints onto the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/permissions", h.CreatePermission)
	r.POST("/permissions/:id/verify", h.VerifyPermission)
	r.GET("/permissions/:id", h.GetPermission)
	r.POST("/permissions/:id/revoke", h.RevokePermission)
	r.GET("/permissions/wallet/:address", h.GetPermissionByWallet)

	r.POST("/sessions", h.CreateSession)
	r.POST("/sessions/activate", h.ActivateSession)
	r.POST("/sessions/end", h.EndSession)
	r.GET("/sessions/:code/stream", h.StreamSession)

	r.GET("/balance/:address", h.GetBalance)
}

// CreatePermissionRequest is the payload for POST /permissions.
type CreatePermissionRequest struct {
	UserWalletAddress string `json:"user_wallet_address" binding:"required"`
	RequestedAmount   string `json:"requested_amount" binding:"required"`
	RatePerHour       string `json:"rate_per_hour" binding:"required"`
	DurationDays      int    `json:"duration_days"`
}

// CreatePermission handles POST /permissions.
func (h *Handler) CreatePermission(c *gin.Context) {
	var req CreatePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	if !validation.IsValidZcashAddress(req.UserWalletAddress) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "user_wallet_address is not a valid Zcash address"})
		return
	}

	amount, ok := decimal.Parse(req.RequestedAmount)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": "requested_amount must be a decimal string"})
		return
	}
	rate, ok := decimal.Parse(req.RatePerHour)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rate", "message": "rate_per_hour must be a decimal string"})
		return
	}

	result, err := h.permissions.Create(c.Request.Context(), req.UserWalletAddress, amount, rate, req.DurationDays)
	if err != nil {
		status, code := permissionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"permission_id":       result.PermissionID,
		"max_streaming_hours": result.MaxHours.String(),
		"expires_at":          result.ExpiresAt,
		"payment_address":     result.PayTo,
		"amount_to_pay":       result.AmountToPay.String(),
	})
}

// VerifyPermission handles POST /permissions/:id/verify.
func (h *Handler) VerifyPermission(c *gin.Context) {
	id := c.Param("id")

	p, err := h.permissions.VerifyAndActivate(c.Request.Context(), id)
	if err != nil {
		var short *permission.PaymentShortError
		if errors.As(err, &short) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":    "payment_short",
				"message":  err.Error(),
				"expected": short.Expected.String(),
				"received": short.Got.String(),
			})
			return
		}
		status, code := permissionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"permission": p})
}

// GetPermission handles GET /permissions/:id.
func (h *Handler) GetPermission(c *gin.Context) {
	id := c.Param("id")

	p, err := h.permissions.GetStatus(c.Request.Context(), id)
	if err != nil {
		status, code := permissionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           p.Status,
		"remaining_amount": p.RemainingAmount.String(),
		"remaining_hours":  p.RemainingHours().String(),
		"used_hours":       p.ApprovedAmount.Sub(p.RemainingAmount).Div(p.RatePerHour).String(),
		"expires_at":       p.ExpiresAt,
	})
}

// RevokePermission handles POST /permissions/:id/revoke.
func (h *Handler) RevokePermission(c *gin.Context) {
	id := c.Param("id")

	p, err := h.permissions.Revoke(c.Request.Context(), id)
	if err != nil {
		status, code := permissionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"permission": p})
}

// GetPermissionByWallet handles GET /permissions/wallet/:address.
func (h *Handler) GetPermissionByWallet(c *gin.Context) {
	address := c.Param("address")

	p, err := h.permissions.GetActiveByWallet(c.Request.Context(), address)
	if err != nil {
		status, code := permissionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"permission": p})
}

// CreateSessionRequest is the payload for POST /sessions.
type CreateSessionRequest struct {
	UserWalletAddress string `json:"user_wallet_address" binding:"required"`
	VendorID          string `json:"vendor_id" binding:"required"`
}

// CreateSession handles POST /sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	result, err := h.sessions.CreateSession(c.Request.Context(), req.UserWalletAddress, req.VendorID)
	if err != nil {
		status, code := sessionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_code": result.SessionCode, "session_id": result.SessionID})
}

// SessionCodeRequest is the payload shared by activate/end.
type SessionCodeRequest struct {
	SessionCode string `json:"session_code" binding:"required"`
}

// ActivateSession handles POST /sessions/activate.
func (h *Handler) ActivateSession(c *gin.Context) {
	var req SessionCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	s, err := h.sessions.ActivateSession(c.Request.Context(), req.SessionCode)
	if err != nil {
		status, code := sessionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": s})
}

// EndSession handles POST /sessions/end.
func (h *Handler) EndSession(c *gin.Context) {
	var req SessionCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid request body"})
		return
	}

	tx, err := h.sessions.EndSession(c.Request.Context(), req.SessionCode)
	if err != nil {
		status, code := sessionErrorStatus(err)
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}

// GetBalance handles GET /balance/:address?rate_per_hour=
func (h *Handler) GetBalance(c *gin.Context) {
	address := c.Param("address")
	if !validation.IsValidZcashAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_address", "message": "address is not a valid Zcash address"})
		return
	}

	balance, err := h.gateway.BalanceForAddress(c.Request.Context(), address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "chain_error", "message": err.Error()})
		return
	}

	resp := gin.H{
		"transparent": balance.Transparent.String(),
		"shielded":    balance.Shielded.String(),
		"total":       balance.Total.String(),
	}

	if rateStr := c.Query("rate_per_hour"); rateStr != "" {
		rate, ok := decimal.Parse(rateStr)
		if !ok || !rate.IsPositive() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_rate", "message": "rate_per_hour must be a positive decimal string"})
			return
		}
		resp["can_stream"] = balance.Total.IsPositive()
		resp["estimated_hours"] = balance.Total.Div(rate).String()
	}

	c.JSON(http.StatusOK, resp)
}

// permissionErrorStatus maps permission package sentinel errors to HTTP status/code pairs.
func permissionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, permission.ErrNotFound),
		errors.Is(err, billingstore.ErrPermissionNotFound),
		errors.Is(err, billingstore.ErrNoActivePermission):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, permission.ErrInvalidAmount),
		errors.Is(err, permission.ErrInvalidRate),
		errors.Is(err, permission.ErrInvalidDuration),
		errors.Is(err, permission.ErrInvalidWallet):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, permission.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, permission.ErrExpired):
		return http.StatusGone, "expired"
	case errors.Is(err, permission.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// sessionErrorStatus maps session package sentinel errors to HTTP status/code pairs.
func sessionErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, billingstore.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrUnknownVendor):
		return http.StatusNotFound, "unknown_vendor"
	case errors.Is(err, session.ErrNoPermission):
		return http.StatusBadRequest, "no_permission"
	case errors.Is(err, session.ErrInsufficientBalance), errors.Is(err, permission.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, permission.ErrExpired):
		return http.StatusGone, "expired"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
