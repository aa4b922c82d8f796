package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/mebike/rental-backend/rental"
	"github.com/mebike/rental-backend/reservation"
	"github.com/mebike/rental-backend/wallet"
)

func TestErrStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", rental.ErrNotFound, http.StatusNotFound},
		{"reservation not found", reservation.ErrNotFound, http.StatusNotFound},
		{"not owner", rental.ErrNotOwner, http.StatusForbidden},
		{"active rental", rental.ErrActiveRentalExists, http.StatusConflict},
		{"already ended", rental.ErrAlreadyEnded, http.StatusConflict},
		{"hold expired", reservation.ErrHoldExpired, http.StatusConflict},
		{"bike not available", reservation.ErrBikeNotAvailable, http.StatusConflict},
		{"option not supported", reservation.ErrOptionNotSupported, http.StatusUnprocessableEntity},
		{"bike broken", rental.ErrBikeIsBroken, http.StatusUnprocessableEntity},
		{"insufficient balance", wallet.ErrInsufficientBalance, http.StatusPaymentRequired},
		{"min balance", rental.ErrInsufficientBalanceToRent, http.StatusPaymentRequired},
		{"frozen wallet", wallet.ErrFrozen, http.StatusPaymentRequired},
		{"unique violation", &rental.UniqueViolationError{Constraint: "rentals_one_active_per_user"}, http.StatusConflict},
		{"wrapped sentinel", errors.Join(errors.New("context"), rental.ErrNotFound), http.StatusNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errStatus(tt.err); got != tt.want {
				t.Errorf("errStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
