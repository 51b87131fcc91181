package email

import (
	"bytes"
	"fmt"
	"html/template"

	pkgDomain "github.com/sakashimaa/media-store/pkg/domain"
	"github.com/sakashimaa/media-store/services/notification/internal/domain"
)

var buyerTemplate = template.Must(template.New("buyer").Parse(`
<h1>Thank you for your purchase!</h1>
<p>You bought <strong>{{.ProductName}}</strong> for {{.Amount}} {{.Currency}}.</p>
{{if .RedemptionURL}}<p>Your download is ready:</p>
<p><a href="{{.RedemptionURL}}">Download {{.ProductName}}</a></p>
<p>Keep this link private. It stops working when it expires.</p>{{end}}
`))

var operatorTemplate = template.Must(template.New("operator").Parse(`
<h1>New sale: {{.ProductName}}</h1>
<ul>
<li>Buyer: {{.BuyerEmail}}</li>
<li>Amount: {{.Amount}} {{.Currency}}</li>
<li>Payment method: {{.PaymentMethod}}</li>
<li>Transaction: {{.TransactionID}}</li>
<li>Time: {{.PurchasedAt.UTC.Format "2006-01-02 15:04:05 MST"}}</li>
</ul>
`))

func RenderBuyerConfirmation(event *pkgDomain.BuyerConfirmationEvent) (*domain.Email, error) {
	if event.Email == "" || event.ProductName == "" {
		return nil, fmt.Errorf("buyer confirmation without recipient or product: %w", domain.ErrInvalidEvent)
	}

	body, err := render(buyerTemplate, event)
	if err != nil {
		return nil, err
	}

	return &domain.Email{
		To:       event.Email,
		Subject:  fmt.Sprintf("Your purchase: %s", event.ProductName),
		HTMLBody: body,
	}, nil
}

func RenderOperatorAlert(event *pkgDomain.OperatorAlertEvent) (*domain.Email, error) {
	if event.OperatorEmail == "" || event.ProductName == "" {
		return nil, fmt.Errorf("operator alert without recipient or product: %w", domain.ErrInvalidEvent)
	}

	body, err := render(operatorTemplate, event)
	if err != nil {
		return nil, err
	}

	return &domain.Email{
		To:       event.OperatorEmail,
		Subject:  fmt.Sprintf("Sale: %s (%s %s)", event.ProductName, event.Amount, event.Currency),
		HTMLBody: body,
	}, nil
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
