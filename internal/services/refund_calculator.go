package services

import (
	"fmt"

	domain "github.com/shopforge/api/internal/domain"
)

// RefundCalculation is the pure result of resolving a refund request
// against the payment's remaining balance.
type RefundCalculation struct {
	Amount        float64
	TotalRefunded float64
	Full          bool
}

// calculateRefund resolves the amount to refund. A nil request refunds
// the remaining balance. The running total may never exceed the payment
// amount and each refund must be positive.
func calculateRefund(requested *float64, paymentAmount, alreadyRefunded float64) (RefundCalculation, error) {
	amount := paymentAmount - alreadyRefunded
	if requested != nil {
		amount = *requested
	}
	amount = domain.RoundMoney(amount)

	if amount <= 0 {
		return RefundCalculation{}, fmt.Errorf("%w: refund amount must be greater than zero", ErrPaymentInvalidInput)
	}

	total := domain.RoundMoney(alreadyRefunded + amount)
	if total > paymentAmount {
		return RefundCalculation{}, fmt.Errorf(
			"%w: cannot refund more than the payment amount. already refunded: %.2f, total: %.2f",
			ErrPaymentInvalidState, alreadyRefunded, paymentAmount,
		)
	}

	return RefundCalculation{
		Amount:        amount,
		TotalRefunded: total,
		Full:          total >= paymentAmount,
	}, nil
}
