package pdf

import (
	"bytes"
	"context"
	"testing"
	"time"

	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/stretchr/testify/require"
)

func TestRenderPayoutStatement(t *testing.T) {
	at := time.Date(2026, 5, 2, 10, 0, 0, 0, time.UTC)
	out, err := New().RenderPayoutStatement(context.Background(), payoutdomain.StatementData{
		PayoutID:     "1789",
		AccountName:  "Ana",
		AccountEmail: "ana@example.com",
		ReferralCode: "ana-x1y2z3",
		Status:       payoutdomain.StatusProcessing,
		Method:       referraldomain.PayoutMethodStripeConnect,
		TransferID:   "tr_123",
		Currency:     "usd",
		Amount:       55000,
		RequestedAt:  at,
		GeneratedAt:  at,
		Lines: []payoutdomain.StatementLine{
			{PaymentRef: "pi_1", InvoiceRef: "in_1", EarnedAt: at, Amount: 30000},
			{PaymentRef: "pi_2", InvoiceRef: "in_2", EarnedAt: at, Amount: 25000},
		},
	})
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestRenderPayoutStatementCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().RenderPayoutStatement(ctx, payoutdomain.StatementData{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFormatMoney(t *testing.T) {
	require.Equal(t, "550.00 USD", formatMoney(55000, "usd"))
	require.Equal(t, "0.05 EUR", formatMoney(5, "eur"))
}
