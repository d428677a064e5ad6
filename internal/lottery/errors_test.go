package lottery_test

import (
	"errors"
	"fmt"
	"testing"

	"TokenLottery/internal/lottery"

	"github.com/stretchr/testify/assert"
)

func TestErrorIdentity(t *testing.T) {
	detailed := lottery.ErrSaleClosed.Withf("slot %d", 201)
	wrapped := fmt.Errorf("buy: %w", detailed)

	assert.True(t, errors.Is(wrapped, lottery.ErrSaleClosed))
	assert.False(t, errors.Is(wrapped, lottery.ErrSaleNotComplete))
	assert.Equal(t, lottery.CodeSaleClosed, lottery.CodeOf(wrapped))
	assert.Equal(t, "SaleClosed: slot 201", detailed.Error())
	assert.Equal(t, lottery.Code(""), lottery.CodeOf(errors.New("db down")))
}

func TestOnlyPendingIsRetryable(t *testing.T) {
	all := []*lottery.Error{
		lottery.ErrNotAuthorized, lottery.ErrSaleClosed, lottery.ErrSaleNotComplete,
		lottery.ErrWinnerAlreadyChosen, lottery.ErrNoTickets, lottery.ErrWinnerNotChosen,
		lottery.ErrRandomnessStale, lottery.ErrWrongRandomnessHandle, lottery.ErrUnverifiedTicket,
		lottery.ErrWrongCollection, lottery.ErrWrongTicket, lottery.ErrInsufficientFunds,
		lottery.ErrPrizeAlreadyClaimed, lottery.ErrRandomnessAlreadyCommitted,
	}
	for _, e := range all {
		assert.Falsef(t, lottery.IsRetryable(e), "%s", e.Code)
	}
	assert.True(t, lottery.IsRetryable(fmt.Errorf("reveal: %w", lottery.ErrRandomnessPending)))
	assert.False(t, lottery.IsRetryable(errors.New("timeout")))
}
