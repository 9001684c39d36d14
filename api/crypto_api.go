package api

import (
	"net/http"

	basemodels "github.com/VillaPay/VillaPay-Backend/models"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type CryptoAPI struct {
	server *Server
}

func (c CryptoAPI) router(server *Server) {
	c.server = server

	serverGroupV1 := server.router.Group("/api/v1/crypto")
	serverGroupV1.GET("rates", AuthenticatedMiddleware(), c.fetchRates)
	serverGroupV1.GET("quote", AuthenticatedMiddleware(), c.quote)
}

// fetchRates returns the cached USD rates for all supported currencies.
func (c *CryptoAPI) fetchRates(ctx *gin.Context) {
	rates := c.server.pricing.AllUSDRates(ctx)

	response := make(map[string]string, len(rates))
	for currency, rate := range rates {
		response[currency.String()] = rate.String()
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Rates Fetched", response))
}

// quote converts a USD price into a uniquified expected payment amount for
// the requested currency. The booking flow calls this exactly once per
// reservation, before persisting it.
func (c *CryptoAPI) quote(ctx *gin.Context) {
	request := struct {
		Currency string `form:"currency" binding:"required,currency"`
		USD      string `form:"usd" binding:"required"`
	}{}

	if err := ctx.ShouldBindQuery(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("please provide a supported currency and a usd amount"))
		return
	}

	usd, err := decimal.NewFromString(request.USD)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("usd amount is malformed"))
		return
	}

	amount, err := c.server.pricing.QuoteExpectedAmount(ctx, usd, reconciliation.Currency(request.Currency))
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError(err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Quote Generated", gin.H{
		"currency":        request.Currency,
		"usd":             usd.String(),
		"expected_amount": amount.String(),
	}))
}
