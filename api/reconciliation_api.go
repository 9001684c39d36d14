package api

import (
	"errors"
	"net/http"

	"github.com/VillaPay/VillaPay-Backend/api/apistrings"
	apimodels "github.com/VillaPay/VillaPay-Backend/api/models"
	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	basemodels "github.com/VillaPay/VillaPay-Backend/models"
	"github.com/VillaPay/VillaPay-Backend/services/reconciliation"
	"github.com/VillaPay/VillaPay-Backend/utils"
	"github.com/gin-gonic/gin"
)

type ReconciliationAPI struct {
	server *Server
}

func (r ReconciliationAPI) router(server *Server) {
	r.server = server

	cronGroup := server.router.Group("/api/v1/reconciliation")
	cronGroup.POST("run", CronSecretMiddleware(server.config.CronSecret), r.runPass)
	cronGroup.GET("last", CronSecretMiddleware(server.config.CronSecret), r.lastPass)

	reservationGroup := server.router.Group("/api/v1/reservations")
	reservationGroup.GET(":id/payment", AuthenticatedMiddleware(), r.checkPayment)
	reservationGroup.POST(":id/payment/hash", AuthenticatedMiddleware(), r.submitHash)
}

// runPass triggers one reconciliation pass across every network. Invoked by
// the external scheduler; the pass itself isolates per-reservation failures.
func (r *ReconciliationAPI) runPass(ctx *gin.Context) {
	stats, err := r.server.reconciler.RunReconciliationPass(ctx)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError(err.Error()))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Reconciliation Pass Complete", stats))
}

func (r *ReconciliationAPI) lastPass(ctx *gin.Context) {
	if r.server.redis == nil {
		ctx.JSON(http.StatusServiceUnavailable, basemodels.NewError("pass statistics are not enabled"))
		return
	}

	fields, err := r.server.redis.GetLastPass(ctx)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError(apistrings.ServerError))
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Last Reconciliation Pass", fields))
}

// paymentCheckResponse and verifyResponse re-render the reservation id as
// its public hashid, so response bodies carry the same identifier the routes
// accept in their paths.
type paymentCheckResponse struct {
	reconciliation.CheckResult
	ReservationID apimodels.ID `json:"reservation_id"`
}

type verifyResponse struct {
	reconciliation.VerifyResult
	ReservationID apimodels.ID `json:"reservation_id"`
}

// checkPayment runs the on-demand payment check for one reservation. A
// match attaches the transaction hash but leaves the status pending;
// confirmation stays with the scheduled pass or an administrator.
func (r *ReconciliationAPI) checkPayment(ctx *gin.Context) {
	reservation, ok := r.authorizedReservation(ctx)
	if !ok {
		return
	}

	result, err := r.server.reconciler.CheckReservationPayment(ctx, reservation.ID)
	if err != nil {
		r.renderReconciliationError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Payment Check Complete",
		paymentCheckResponse{result, apimodels.ID(result.ReservationID)}))
}

// submitHash records a guest-submitted transaction hash and immediately
// verifies it against the chain.
func (r *ReconciliationAPI) submitHash(ctx *gin.Context) {
	reservation, ok := r.authorizedReservation(ctx)
	if !ok {
		return
	}

	request := struct {
		TransactionHash string `json:"transaction_hash" binding:"required"`
	}{}

	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError("please enter a transaction hash"))
		return
	}

	if err := r.server.reconciler.SubmitTransactionHash(ctx, reservation.ID, request.TransactionHash); err != nil {
		r.renderReconciliationError(ctx, err)
		return
	}

	result, err := r.server.reconciler.VerifyManualTransaction(ctx, reservation.ID)
	if err != nil {
		r.renderReconciliationError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, basemodels.NewSuccess("Transaction Verification Complete",
		verifyResponse{result, apimodels.ID(result.ReservationID)}))
}

// authorizedReservation resolves the path id and enforces that the caller
// owns the reservation or is an administrator.
func (r *ReconciliationAPI) authorizedReservation(ctx *gin.Context) (db.Reservation, bool) {
	activeUser, err := utils.GetActiveUser(ctx)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, basemodels.NewError(apistrings.UserNotFound))
		return db.Reservation{}, false
	}

	id, err := apimodels.DecodePublicID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, basemodels.NewError(apistrings.InvalidReservation))
		return db.Reservation{}, false
	}

	reservation, err := r.server.store.GetReservation(ctx, id)
	if err != nil {
		ctx.JSON(http.StatusNotFound, basemodels.NewError(apistrings.ReservationNotFound))
		return db.Reservation{}, false
	}

	if reservation.GuestID != activeUser.UserID && !activeUser.IsAdmin() {
		ctx.JSON(http.StatusForbidden, basemodels.NewError(apistrings.NotYourReservation))
		return db.Reservation{}, false
	}

	return reservation, true
}

func (r *ReconciliationAPI) renderReconciliationError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, reconciliation.ErrReservationNotFound):
		ctx.JSON(http.StatusNotFound, basemodels.NewError(apistrings.ReservationNotFound))
	case errors.Is(err, reconciliation.ErrMissingTransactionHash),
		errors.Is(err, reconciliation.ErrInvalidTransactionHash),
		errors.Is(err, reconciliation.ErrUnsupportedCurrency):
		ctx.JSON(http.StatusBadRequest, basemodels.NewError(err.Error()))
	case errors.Is(err, reconciliation.ErrHashAlreadyUsed),
		errors.Is(err, reconciliation.ErrHashConflict):
		ctx.JSON(http.StatusConflict, basemodels.NewError(err.Error()))
	case errors.Is(err, reconciliation.ErrScanUnavailable),
		errors.Is(err, reconciliation.ErrVerificationUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, basemodels.NewError("could not determine payment status, please try again"))
	case errors.Is(err, reconciliation.ErrNoWalletAddress):
		r.server.logger.Error(err)
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError("payment address is not configured for this currency"))
	default:
		r.server.logger.Error(err)
		ctx.JSON(http.StatusInternalServerError, basemodels.NewError(apistrings.ServerError))
	}
}
