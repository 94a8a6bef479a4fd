package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"BetPull/internal/domain/models"
	domrepo "BetPull/internal/domain/repository"
	"BetPull/internal/market"
	xhttp "BetPull/pkg/http"
	applogger "BetPull/pkg/logger"
)

// MarketSource is the read side of the market router.
type MarketSource interface {
	Market(id string) (*market.Handler, bool)
	Markets() []*market.Handler
}

// MarketsHandler serves market status and persisted order logs.
type MarketsHandler struct {
	logger  *applogger.Logger
	markets MarketSource
	orders  domrepo.OrderLog
}

var _ xhttp.Handler = (*MarketsHandler)(nil)

// NewMarketsHandler creates the handler. orders may be nil, in which case the orders route answers 503.
func NewMarketsHandler(logger *applogger.Logger, markets MarketSource, orders domrepo.OrderLog) *MarketsHandler {
	if logger == nil {
		logger = applogger.Nop()
	}
	return &MarketsHandler{logger: logger, markets: markets, orders: orders}
}

func (h *MarketsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api")
	g.GET("/markets", h.List)
	g.GET("/markets/:id", h.Get)
	g.GET("/markets/:id/runners/:selection_id", h.Runner)
	g.GET("/markets/:id/orders", h.Orders)
}

// List returns market summaries ordered by market id.
func (h *MarketsHandler) List(c echo.Context) error {
	req := &models.ListMarketsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	all := h.markets.Markets()
	rows := make([]market.Summary, 0, len(all))
	var total int64
	for _, m := range all {
		closed := m.Closed()
		if (req.Status == "open" && closed) || (req.Status == "closed" && !closed) {
			continue
		}
		total++
		if len(rows) < req.Limit {
			rows = append(rows, m.Summary())
		}
	}
	return xhttp.ListResponse(c, rows, total)
}

func (h *MarketsHandler) Get(c echo.Context) error {
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, ok := h.markets.Market(req.MarketID)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s not found", req.MarketID).
			WithParam("market_id", req.MarketID))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, m.Summary())
}

// Runner returns one selection of a market summary.
func (h *MarketsHandler) Runner(c echo.Context) error {
	req := &models.RunnerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	m, ok := h.markets.Market(req.MarketID)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("market %s not found", req.MarketID))
	}
	for _, r := range m.Summary().Runners {
		if r.SelectionID == req.SelectionID {
			return xhttp.SuccessResponse(c, r)
		}
	}
	return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("selection %d not found in market %s", req.SelectionID, req.MarketID).
		WithParam("selection_id", req.SelectionID))
}

// Orders returns the persisted order log of a market, keyed by selection id.
func (h *MarketsHandler) Orders(c echo.Context) error {
	req := &models.MarketRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if h.orders == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableErrorf("order log is not configured"))
	}
	orders, err := h.orders.LoadMarket(c.Request().Context(), req.MarketID)
	if err != nil {
		h.logger.Error("load market orders failed", applogger.MarketID(req.MarketID), applogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("load orders for %s", req.MarketID).WithError(err))
	}
	if len(orders) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no orders recorded for market %s", req.MarketID))
	}
	return xhttp.DataResponse(c, http.StatusOK, orders)
}
