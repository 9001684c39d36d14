package apistrings

const (
	UserNotFound        = "user could not be resolved from this session"
	ReservationNotFound = "reservation not found"
	NotYourReservation  = "you do not have access to this reservation"
	InvalidReservation  = "please provide a valid reservation ID"
	ServerError         = "an error occurred, please try again"
)
