package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/YasinArafatAjad/BookWorld/internal/models"
	"github.com/YasinArafatAjad/BookWorld/internal/service"
	"github.com/YasinArafatAjad/BookWorld/internal/store"
	"github.com/YasinArafatAjad/BookWorld/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	ctxUserID = "userID"
	ctxRole   = "userRole"
)

// Handler contains HTTP handlers
type Handler struct {
	orders  *service.OrderService
	catalog *service.CatalogService
}

// NewHandler creates a new HTTP handler
func NewHandler(orders *service.OrderService, catalog *service.CatalogService) *Handler {
	return &Handler{
		orders:  orders,
		catalog: catalog,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		books := api.Group("/books")
		{
			books.GET("/:id", h.getBook)
			books.POST("", requireAuth(), requireAdmin(), h.createBook)
			books.PUT("/:id", requireAuth(), requireAdmin(), h.updateBook)
			books.DELETE("/:id", requireAuth(), requireAdmin(), h.deleteBook)
		}

		orders := api.Group("/orders", requireAuth())
		{
			orders.POST("", h.placeOrder)
			orders.GET("", requireAdmin(), h.listOrders)
			orders.GET("/myorders", h.myOrders)
			orders.GET("/:id", h.getOrder)
			orders.PUT("/:id/pay", h.payOrder)
			orders.PUT("/:id/status", requireAdmin(), h.updateOrderStatus)
		}
	}
}

// requireAuth reads the identity the upstream auth layer attached to the
// request. Token verification happens upstream; this service only trusts
// the forwarded headers.
func requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
		if err != nil || userID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"message": "Not authenticated",
			})
			return
		}

		role := c.GetHeader("X-User-Role")
		if role == "" {
			role = models.RoleUser
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ctxRole) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"message": "Admin access required",
			})
			return
		}
		c.Next()
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// placeOrder handles order placement
func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	resp, err := h.orders.PlaceOrder(c.Request.Context(), c.GetInt64(ctxUserID), &req)
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder returns one order for its owner or an admin
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	isAdmin := c.GetString(ctxRole) == models.RoleAdmin
	order, err := h.orders.GetOrder(c.Request.Context(), orderID, c.GetInt64(ctxUserID), isAdmin)
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// myOrders returns the caller's orders, newest first
func (h *Handler) myOrders(c *gin.Context) {
	orders, err := h.orders.ListUserOrders(c.Request.Context(), c.GetInt64(ctxUserID))
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, orders)
}

// listOrders returns all orders (admin), optionally filtered by status
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListOrders(c.Request.Context(), c.Query("status"))
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders":      orders,
		"totalOrders": len(orders),
	})
}

// payOrder marks an order paid with the provider's payment result
func (h *Handler) payOrder(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var result models.PaymentResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.PayOrder(c.Request.Context(), orderID, result)
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type updateStatusRequest struct {
	Status         string  `json:"status" binding:"required"`
	TrackingNumber *string `json:"trackingNumber,omitempty"`
}

// updateOrderStatus performs an administrative status transition
func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.UpdateStatus(c.Request.Context(), orderID, req.Status, req.TrackingNumber)
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// getBook returns a catalog entry with its reviews
func (h *Handler) getBook(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}

	book, err := h.catalog.GetBook(c.Request.Context(), bookID)
	if err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, book)
}

// createBook inserts a catalog entry (admin)
func (h *Handler) createBook(c *gin.Context) {
	var book models.Book
	if err := c.ShouldBindJSON(&book); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.catalog.CreateBook(c.Request.Context(), &book); err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, book)
}

// updateBook persists an administrative edit, including a direct stock set
func (h *Handler) updateBook(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}

	var book models.Book
	if err := c.ShouldBindJSON(&book); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"message": "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	book.ID = bookID

	if err := h.catalog.UpdateBook(c.Request.Context(), &book); err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, book)
}

// deleteBook removes a catalog entry (admin)
func (h *Handler) deleteBook(c *gin.Context) {
	bookID, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.catalog.DeleteBook(c.Request.Context(), bookID); err != nil {
		h.renderOrderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Book deleted"})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid id"})
		return 0, false
	}
	return id, true
}

// renderOrderError maps service and store errors to HTTP responses.
func (h *Handler) renderOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNoOrderItems):
		c.JSON(http.StatusBadRequest, gin.H{"message": "No order items"})
	case errors.Is(err, service.ErrUnknownStatus):
		c.JSON(http.StatusBadRequest, gin.H{"message": "Unknown order status"})
	case errors.Is(err, service.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"message": "Not authorized to view this order"})
	case errors.Is(err, store.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Order not found"})
	case errors.Is(err, store.ErrBookNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "Book not found"})
	case errors.Is(err, store.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": "User not found"})
	case errors.Is(err, store.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"message": "Insufficient stock", "details": err.Error()})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"message": "Invalid status transition", "details": err.Error()})
	default:
		util.GetLogger().Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error"})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
