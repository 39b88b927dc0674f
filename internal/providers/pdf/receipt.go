package pdf

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

type PDFProvider struct {
	issuer string
}

func NewPDFProvider(issuer string) *PDFProvider {
	return &PDFProvider{issuer: strings.TrimSpace(issuer)}
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error) {
	if strings.TrimSpace(data.OrderID) == "" {
		return nil, errors.New("receipt order id is empty")
	}
	if data.Quantity <= 0 {
		return nil, errors.New("receipt quantity must be positive")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(20,
		text.NewCol(8, "Credit purchase receipt", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, p.issuer, props.Text{
			Size:  10,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	paidAt := ""
	if !data.PaidAt.IsZero() {
		paidAt = data.PaidAt.UTC().Format("2006-01-02 15:04 MST")
	}
	m.AddRow(24,
		col.New(6).Add(
			text.New("Order: "+data.OrderID, props.Text{Top: 0}),
			text.New("Tenant: "+data.TenantID, props.Text{Top: 5}),
			text.New("Date paid: "+paidAt, props.Text{Top: 10}),
		),
		col.New(6).Add(
			text.New("Payment: "+data.PaymentID, props.Text{Top: 0, Align: align.Right}),
			text.New("Method: "+data.PaymentMethod, props.Text{Top: 5, Align: align.Right}),
		),
	)

	total := formatMinor(data.TotalAmount, data.Currency)
	m.AddRow(15,
		text.NewCol(12, total+" paid on "+paidAt, props.Text{
			Size:  13,
			Style: fontstyle.Bold,
			Top:   4,
		}),
	)

	m.AddRow(10,
		text.NewCol(6, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Qty", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Unit price", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	m.AddRow(12,
		text.NewCol(6, fmt.Sprintf("%s message credits", data.Channel), props.Text{Size: 9}),
		text.NewCol(2, fmt.Sprintf("%d", data.Quantity), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, formatMinor(data.UnitPrice, data.Currency), props.Text{Size: 9, Align: align.Right}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, total, props.Text{Size: 9, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

func formatMinor(amount int64, currency string) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, strings.ToUpper(currency))
}
