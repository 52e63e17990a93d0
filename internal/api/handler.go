package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bookshop-service/internal/gateway"
	"bookshop-service/internal/models"
	"bookshop-service/internal/redisclient"
	"bookshop-service/internal/service"
	"bookshop-service/internal/store"
	"bookshop-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// identityHeader carries the opaque customer id supplied by the identity
// provider in front of this service.
const identityHeader = "X-User-ID"

// Handler contains HTTP handlers
type Handler struct {
	checkout  *service.CheckoutService
	orders    *service.OrderService
	callbacks *service.CallbackProcessor
	reviews   *service.ReviewService
	analytics *service.AnalyticsService
	events    service.EventSink
	store     *store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkout *service.CheckoutService,
	orders *service.OrderService,
	callbacks *service.CallbackProcessor,
	reviews *service.ReviewService,
	analytics *service.AnalyticsService,
	events service.EventSink,
	store *store.Store,
) *Handler {
	return &Handler{
		checkout:  checkout,
		orders:    orders,
		callbacks: callbacks,
		reviews:   reviews,
		analytics: analytics,
		events:    events,
		store:     store,
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

	v1 := router.Group("/api/v1")
	{
		checkout := v1.Group("/checkout")
		{
			checkout.POST("/start", h.startCheckout)
			checkout.POST("/:session/variant", h.selectVariant)
			checkout.POST("/:session/shipping", h.submitShipping)
			checkout.POST("/:session/discount", h.applyDiscount)
			checkout.DELETE("/:session/discount", h.removeDiscount)
			checkout.POST("/:session/back", h.checkoutBack)
			checkout.POST("/:session/submit", h.submitCheckout)
		}

		v1.POST("/orders", h.placeOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.GET("/orders/:id/review", h.getOrderReview)
		v1.GET("/orders", h.getUserOrders)
		v1.GET("/stock", h.getStock)

		v1.POST("/payments/callback", h.paymentCallback)

		v1.POST("/reviews", h.submitReview)
		v1.GET("/reviews", h.getReviews)

		v1.POST("/events", h.trackEvent)

		admin := v1.Group("/admin")
		{
			admin.GET("/orders", h.adminOrders)
			admin.PATCH("/orders/:id/status", h.changeOrderStatus)
			admin.PATCH("/orders/status", h.changeOrderStatusBulk)
			admin.GET("/stock", h.getStock)
			admin.PUT("/stock", h.setStock)
			admin.GET("/discounts", h.getDiscounts)
			admin.POST("/discounts", h.createDiscount)
			admin.GET("/analytics", h.getAnalytics)
		}
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

// --- checkout ---

func (h *Handler) startCheckout(c *gin.Context) {
	session, err := h.checkout.Start(c.Request.Context(), c.GetHeader(identityHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handler) selectVariant(c *gin.Context) {
	var req struct {
		Variant string `json:"variant" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	variant, err := models.ParseVariant(req.Variant)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.checkout.SelectVariant(c.Request.Context(), c.Param("session"), variant)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) submitShipping(c *gin.Context) {
	var details service.ShippingDetails
	if err := c.ShouldBindJSON(&details); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	session, err := h.checkout.SubmitShipping(c.Request.Context(), c.Param("session"), details)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) applyDiscount(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	session, err := h.checkout.ApplyDiscount(c.Request.Context(), c.Param("session"), req.Code)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session": session,
		"message": "Code applied.",
		"percent": session.DiscountPercent,
	})
}

func (h *Handler) removeDiscount(c *gin.Context) {
	session, err := h.checkout.RemoveDiscount(c.Request.Context(), c.Param("session"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) checkoutBack(c *gin.Context) {
	session, err := h.checkout.Back(c.Request.Context(), c.Param("session"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) submitCheckout(c *gin.Context) {
	var req struct {
		PaymentMethod string `json:"payment_method" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	result, err := h.checkout.Submit(c.Request.Context(), c.Param("session"), req.PaymentMethod)
	if err != nil {
		h.failPlacement(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// --- orders ---

func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader(identityHeader)
	}

	result, err := h.orders.PlaceOrder(c.Request.Context(), &req)
	if err != nil {
		h.failPlacement(c, result, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) getUserOrders(c *gin.Context) {
	orders, err := h.orders.GetOrdersForUser(c.Request.Context(), c.GetHeader(identityHeader))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) adminOrders(c *gin.Context) {
	orders, err := h.orders.GetOrders(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (h *Handler) changeOrderStatus(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.orders.ChangeOrderStatus(c.Request.Context(), c.Param("id"), status); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) changeOrderStatusBulk(c *gin.Context) {
	var req struct {
		OrderIDs []string `json:"order_ids" binding:"required,min=1"`
		Status   string   `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, err := h.orders.ChangeOrderStatusBulk(c.Request.Context(), req.OrderIDs, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"updated": updated, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// --- payments ---

func (h *Handler) paymentCallback(c *gin.Context) {
	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read callback body"})
		return
	}

	err = h.callbacks.Process(c.Request.Context(), rawBody, c.GetHeader("X-VERIFY"))
	switch {
	case errors.Is(err, gateway.ErrSignatureMismatch), errors.Is(err, gateway.ErrMalformedCallback):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Checksum mismatch"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process callback"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// --- stock & discounts ---

func (h *Handler) getStock(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.GetStockLevels(c.Request.Context()))
}

func (h *Handler) setStock(c *gin.Context) {
	var levels models.StockLevels
	if err := c.ShouldBindJSON(&levels); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if levels.Paperback < 0 || levels.Hardcover < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Stock levels cannot be negative"})
		return
	}

	if err := h.store.SetStockLevels(c.Request.Context(), levels); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) getDiscounts(c *gin.Context) {
	discounts, err := h.store.GetDiscounts(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discounts": discounts})
}

func (h *Handler) createDiscount(c *gin.Context) {
	var req struct {
		Code    string `json:"code" binding:"required"`
		Percent int    `json:"percent" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.store.CreateDiscount(c.Request.Context(), req.Code, req.Percent); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// --- reviews & analytics ---

func (h *Handler) submitReview(c *gin.Context) {
	var req service.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.UserID == "" {
		req.UserID = c.GetHeader(identityHeader)
	}

	review, err := h.reviews.SubmitReview(c.Request.Context(), &req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *Handler) getOrderReview(c *gin.Context) {
	review, err := h.store.GetReviewByOrderID(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if review == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order has no review"})
		return
	}
	c.JSON(http.StatusOK, review)
}

func (h *Handler) getReviews(c *gin.Context) {
	reviews, err := h.reviews.GetReviews(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviews": reviews})
}

func (h *Handler) trackEvent(c *gin.Context) {
	var req struct {
		Type     string                 `json:"type" binding:"required"`
		Metadata map[string]interface{} `json:"metadata,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	h.events.Track(c.Request.Context(), req.Type, req.Metadata)
	c.JSON(http.StatusAccepted, gin.H{"success": true})
}

func (h *Handler) getAnalytics(c *gin.Context) {
	summary, err := h.analytics.Summary(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// failPlacement reports a failed placement attempt, keeping the user-facing
// result body when the service produced one.
func (h *Handler) failPlacement(c *gin.Context, result *service.PlaceOrderResult, err error) {
	if result != nil {
		switch {
		case errors.Is(err, store.ErrInsufficientStock):
			c.JSON(http.StatusConflict, result)
		case errors.Is(err, service.ErrGateway):
			c.JSON(http.StatusBadGateway, result)
		default:
			c.JSON(http.StatusInternalServerError, result)
		}
		return
	}
	h.fail(c, err)
}

// fail maps service and store errors onto the coarse outcome set.
func (h *Handler) fail(c *gin.Context, err error) {
	var fieldErrs *service.FieldErrors

	switch {
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Validation failed", "fields": fieldErrs.Fields})
	case errors.Is(err, service.ErrValidationFailed),
		errors.Is(err, service.ErrWrongStep),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, store.ErrInvalidPercent):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, redisclient.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrDuplicateCode),
		errors.Is(err, store.ErrInsufficientStock),
		errors.Is(err, store.ErrReviewExists),
		errors.Is(err, service.ErrVariantSoldOut),
		errors.Is(err, service.ErrSubmitInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Something went wrong, please try again"})
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
