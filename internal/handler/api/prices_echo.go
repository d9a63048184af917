package api

import (
	"net/http"

	"CryptoRelay/internal/domain/models"
	domrepo "CryptoRelay/internal/domain/repository"
	xhttp "CryptoRelay/pkg/http"
	xlogger "CryptoRelay/pkg/logger"

	"github.com/labstack/echo/v4"
)

const Banner = "Crypto Rates API"

// PriceReader is the read side of the aggregation engine.
type PriceReader interface {
	Symbols() []string
	GetAllLatestPrices() map[string]models.PriceTick
	GetAllHourlyAverages() map[string]models.HourlyAverage
	GetHourlyAverages(symbol string) []models.HourlyAverage
	GetPriceHistory(symbol string) []models.PriceTick
}

// StatusSource reports the upstream connection state.
type StatusSource interface {
	UpstreamState() string
}

// SubscriberCounter reports connected downstream subscribers.
type SubscriberCounter interface {
	Count() int
}

// PricesEchoHandler serves read-only JSON views of the in-memory state and,
// when configured, of the optional stores.
type PricesEchoHandler struct {
	logger   *xlogger.Logger
	prices   PriceReader
	status   StatusSource
	subs     SubscriberCounter
	averages domrepo.AverageStore  // optional
	snaps    domrepo.SnapshotStore // optional
}

func NewPricesEchoHandler(logger *xlogger.Logger, prices PriceReader, status StatusSource, subs SubscriberCounter, averages domrepo.AverageStore, snaps domrepo.SnapshotStore) *PricesEchoHandler {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &PricesEchoHandler{logger: logger, prices: prices, status: status, subs: subs, averages: averages, snaps: snaps}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Root)
	e.GET("/health", h.Health)
	g := e.Group("/api")
	g.GET("/prices", h.Prices)
	g.GET("/averages", h.Averages)
	g.GET("/history", h.History)
	g.GET("/stored/averages", h.StoredAverages)
	g.GET("/stored/latest", h.StoredLatest)
}

func (h *PricesEchoHandler) Root(c echo.Context) error {
	return c.String(http.StatusOK, Banner)
}

func (h *PricesEchoHandler) Health(c echo.Context) error {
	upstream := h.status.UpstreamState()
	res := models.HealthResponse{Status: "ok", Upstream: upstream, Subscribers: h.subs.Count()}
	if upstream != "subscribed" {
		res.Status = "degraded"
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PricesEchoHandler) Prices(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.prices.GetAllLatestPrices())
}

func (h *PricesEchoHandler) Averages(c echo.Context) error {
	req := &models.StoredRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if req.Symbol == "" {
		return xhttp.SuccessResponse(c, h.prices.GetAllHourlyAverages())
	}
	avgs := h.prices.GetHourlyAverages(req.Symbol)
	if len(avgs) == 0 && !h.tracked(req.Symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not tracked", req.Symbol).WithParam("symbol", req.Symbol))
	}
	return xhttp.SuccessResponse(c, avgs)
}

func (h *PricesEchoHandler) History(c echo.Context) error {
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	ticks := h.prices.GetPriceHistory(req.Symbol)
	if len(ticks) == 0 && !h.tracked(req.Symbol) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol %s is not tracked", req.Symbol).WithParam("symbol", req.Symbol))
	}

	if req.From != "" {
		from, ok := xhttp.ParseTime(req.From)
		if !ok {
			appErr := xhttp.NewAppError("ERR_INVALID_TIME", "from", "from must be RFC3339 or a unix timestamp", http.StatusBadRequest)
			return xhttp.AppErrorResponse(c, appErr)
		}
		ms := from.UnixMilli()
		kept := ticks[:0]
		for _, t := range ticks {
			if t.Timestamp >= ms {
				kept = append(kept, t)
			}
		}
		ticks = kept
	}
	if req.Limit > 0 && len(ticks) > req.Limit {
		ticks = ticks[len(ticks)-req.Limit:]
	}

	return xhttp.SuccessResponse(c, models.HistoryResponse{Symbol: req.Symbol, Count: len(ticks), Ticks: ticks})
}

func (h *PricesEchoHandler) StoredAverages(c echo.Context) error {
	if h.averages == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("average store is not enabled"))
	}
	req := &models.StoredRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()

	if req.Symbol == "" {
		res, err := h.averages.FindAllLatest(ctx, h.prices.Symbols())
		if err != nil {
			h.logger.Error("stored averages query failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("average store unavailable").WithError(err))
		}
		return xhttp.SuccessResponse(c, res)
	}

	res, err := h.averages.FindBySymbol(ctx, req.Symbol)
	if err != nil {
		h.logger.Error("stored averages query failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("average store unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *PricesEchoHandler) StoredLatest(c echo.Context) error {
	req := &models.StoredRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ctx := c.Request().Context()
	if req.Symbol == "" {
		return h.storedLatestAll(c)
	}
	res := models.StoredLatestResponse{Symbol: req.Symbol}

	switch {
	case h.snaps != nil:
		p, err := h.snaps.LatestPrice(ctx, req.Symbol)
		if err != nil {
			h.logger.Error("snapshot price lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("snapshot store unavailable").WithError(err))
		}
		a, err := h.snaps.LatestAverage(ctx, req.Symbol)
		if err != nil {
			h.logger.Error("snapshot average lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("snapshot store unavailable").WithError(err))
		}
		res.Price, res.Average = p, a
	case h.averages != nil:
		a, err := h.averages.FindLatestBySymbol(ctx, req.Symbol)
		if err != nil {
			h.logger.Error("stored average lookup failed", xlogger.String("symbol", req.Symbol), xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("average store unavailable").WithError(err))
		}
		res.Average = a
	default:
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no store is enabled"))
	}

	if res.Price == nil && res.Average == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("nothing stored for %s", req.Symbol))
	}
	return xhttp.SuccessResponse(c, res)
}

// storedLatestAll answers for every tracked symbol, keyed by symbol.
func (h *PricesEchoHandler) storedLatestAll(c echo.Context) error {
	ctx := c.Request().Context()
	out := make(map[string]models.StoredLatestResponse)

	switch {
	case h.snaps != nil:
		prices, err := h.snaps.LatestPrices(ctx, h.prices.Symbols())
		if err != nil {
			h.logger.Error("snapshot prices lookup failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("snapshot store unavailable").WithError(err))
		}
		for sym, p := range prices {
			out[sym] = models.StoredLatestResponse{Symbol: sym, Price: &p}
		}
	case h.averages != nil:
		avgs, err := h.averages.FindAllLatest(ctx, h.prices.Symbols())
		if err != nil {
			h.logger.Error("stored averages query failed", xlogger.Error(err))
			return xhttp.AppErrorResponse(c, xhttp.UnavailableError("average store unavailable").WithError(err))
		}
		for sym, a := range avgs {
			out[sym] = models.StoredLatestResponse{Symbol: sym, Average: &a}
		}
	default:
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no store is enabled"))
	}

	if len(out) == 0 {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("nothing stored"))
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *PricesEchoHandler) tracked(symbol string) bool {
	for _, s := range h.prices.Symbols() {
		if s == symbol {
			return true
		}
	}
	return false
}
