package pdf

import (
	"context"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
)

const dateLayout = "2006-01-02"

// RenderPayoutStatement lays out a remittance statement listing every
// commission settled by the payout.
func (p *Provider) RenderPayoutStatement(ctx context.Context, data payoutdomain.StatementData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()
	m := maroto.New(cfg)

	m.AddRow(14,
		text.NewCol(8, "Payout statement", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, p.issuer, props.Text{
			Size:  12,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	transfer := data.TransferID
	if transfer == "" {
		transfer = "-"
	}
	m.AddRow(26,
		col.New(6).Add(
			text.New("Payout: "+data.PayoutID, props.Text{Top: 0}),
			text.New("Requested: "+data.RequestedAt.UTC().Format(dateLayout), props.Text{Top: 5}),
			text.New("Status: "+string(data.Status), props.Text{Top: 10}),
			text.New("Transfer: "+transfer, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Paid to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(data.AccountName, props.Text{Top: 5, Align: align.Right}),
			text.New(data.AccountEmail, props.Text{Top: 10, Align: align.Right}),
			text.New("Referral code: "+data.ReferralCode, props.Text{Top: 15, Align: align.Right}),
		),
	)

	m.AddRow(12,
		text.NewCol(12, formatMoney(data.Amount, data.Currency)+" via "+string(data.Method), props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   3,
		}),
	)

	m.AddRow(8,
		text.NewCol(4, "Payment", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Invoice", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Earned", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(2, line.NewCol(12))

	var total int64
	for _, l := range data.Lines {
		total += l.Amount
		m.AddRow(7,
			text.NewCol(4, l.PaymentRef, props.Text{Size: 8}),
			text.NewCol(4, l.InvoiceRef, props.Text{Size: 8}),
			text.NewCol(2, l.EarnedAt.UTC().Format(dateLayout), props.Text{Size: 8, Align: align.Right}),
			text.NewCol(2, formatMoney(l.Amount, data.Currency), props.Text{Size: 8, Align: align.Right}),
		)
	}
	if len(data.Lines) == 0 {
		m.AddRow(7, text.NewCol(12, "No commissions are attached to this payout.", props.Text{Size: 8}))
	}

	m.AddRow(2, line.NewCol(12))
	m.AddRow(8,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, formatMoney(total, data.Currency), props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(8,
		text.NewCol(12, "Generated "+data.GeneratedAt.UTC().Format(dateLayout), props.Text{Size: 7, Top: 3}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}
