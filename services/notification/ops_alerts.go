package notification

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	db "github.com/VillaPay/VillaPay-Backend/db/sqlc"
	"github.com/VillaPay/VillaPay-Backend/services/monitoring/logging"
	"github.com/VillaPay/VillaPay-Backend/utils"
)

// OpsAlertService mails the operations inbox about conditions that need a
// human, chiefly expected-amount collisions between pending reservations.
type OpsAlertService struct {
	plunk  *Plunk
	to     string
	logger *logging.Logger
}

func NewOpsAlertService(config *utils.Config, logger *logging.Logger) *OpsAlertService {
	return &OpsAlertService{
		plunk: &Plunk{
			HttpClient: &http.Client{Timeout: time.Second * 30},
			Config:     config,
		},
		to:     config.OpsAlertMail,
		logger: logger,
	}
}

// AmountCollision reports that two or more pending reservations expect the
// same amount in the same currency, so any single transfer of that amount
// has an ambiguous claim. Delivery failure is logged, never propagated; the
// alert is advisory and the collision is already in the logs.
func (o *OpsAlertService) AmountCollision(reservation db.Reservation, others []db.Reservation) {
	if o.to == "" {
		return
	}

	ids := make([]string, len(others))
	for i, r := range others {
		ids[i] = fmt.Sprintf("%d", r.ID)
	}

	subject := fmt.Sprintf("Amount collision on reservation %d (%s %s)",
		reservation.ID, reservation.ExpectedAmount, reservation.Currency)
	body := fmt.Sprintf(
		"Reservation %d expects %s %s, the same amount as pending reservation(s) %s.\n"+
			"Any transfer of this amount is ambiguous and needs manual attribution.",
		reservation.ID, reservation.ExpectedAmount, reservation.Currency, strings.Join(ids, ", "))

	if err := o.plunk.SendEmail(o.to, subject, body); err != nil {
		o.logger.Error(fmt.Sprintf("sending collision alert for reservation %d: %v", reservation.ID, err))
	}
}
