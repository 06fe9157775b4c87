package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"strings"

	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/mrz1836/postmark"
	"go.uber.org/zap"
)

// ErrSendFailed is returned when the email provider rejects a message.
var ErrSendFailed = errors.New("failed to send email")

const purchaseConfirmationTag = "purchase-confirmation"

// Config holds Postmark and sender settings
type Config struct {
	ServerToken  string
	AccountToken string
	From         string
	ReplyTo      string
	ProductName  string
}

// emailSender is the part of the Postmark client used here.
type emailSender interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkNotifier sends billing emails through Postmark.
type PostmarkNotifier struct {
	client emailSender
	config Config
	logger *zap.Logger
}

// NewNotifier returns a Postmark notifier when tokens are configured,
// otherwise a notifier that only logs.
func NewNotifier(cfg Config, logger *zap.Logger) (domain.Notifier, error) {
	if cfg.ServerToken == "" {
		logger.Info("[Mailer] Using log notifier (no Postmark token configured)")
		return NewLogNotifier(logger), nil
	}
	return NewPostmarkNotifier(cfg, logger)
}

// NewPostmarkNotifier creates a Postmark-backed notifier.
func NewPostmarkNotifier(cfg Config, logger *zap.Logger) (*PostmarkNotifier, error) {
	if cfg.ServerToken == "" {
		return nil, errors.New("postmark server token is required")
	}
	if cfg.From == "" {
		return nil, errors.New("sender email is required")
	}
	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		config: cfg,
		logger: logger.Named("mailer"),
	}, nil
}

// SendPurchaseConfirmation emails the user a receipt for their new plan.
func (n *PostmarkNotifier) SendPurchaseConfirmation(ctx context.Context, msg domain.PurchaseConfirmation) error {
	subject, body, err := RenderPurchaseConfirmation(n.config.ProductName, msg)
	if err != nil {
		return err
	}

	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:       n.config.From,
		ReplyTo:    n.config.ReplyTo,
		To:         msg.Email,
		Subject:    subject,
		Tag:        purchaseConfirmationTag,
		HTMLBody:   body,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrSendFailed, fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message))
	}

	n.logger.Info("[Mailer] purchase confirmation sent",
		zap.String("user_id", msg.UserID),
		zap.String("message_id", resp.MessageID),
	)
	return nil
}

// LogNotifier writes messages to the log instead of sending them.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("mailer")}
}

func (n *LogNotifier) SendPurchaseConfirmation(_ context.Context, msg domain.PurchaseConfirmation) error {
	n.logger.Info("[Mailer] purchase confirmation (not sent)",
		zap.String("user_id", msg.UserID),
		zap.String("email", msg.Email),
		zap.String("plan", string(msg.Plan)),
		zap.Stringer("amount", msg.Amount),
		zap.Time("current_period_end", msg.CurrentPeriodEnd),
	)
	return nil
}

var purchaseConfirmationTmpl = template.Must(template.New("purchase_confirmation").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; color: #1f2937;">
  <h1>Welcome to {{.Product}} Premium</h1>
  <p>Thanks for subscribing. Your {{.Plan}} plan is now active.</p>
  <table cellpadding="4">
    <tr><td>Plan</td><td><strong>{{.Plan}}</strong></td></tr>
    <tr><td>Price</td><td><strong>${{.Amount}}</strong> per {{.Period}}</td></tr>
    <tr><td>Renews on</td><td><strong>{{.RenewsOn}}</strong></td></tr>
  </table>
  <p>You can manage or cancel your subscription at any time from your account settings.</p>
</body>
</html>
`))

// RenderPurchaseConfirmation builds the subject and HTML body of a purchase confirmation.
func RenderPurchaseConfirmation(product string, msg domain.PurchaseConfirmation) (string, string, error) {
	if product == "" {
		product = "Paywall"
	}
	period := "month"
	if msg.Plan == domain.PlanAnnual {
		period = "year"
	}

	var buf bytes.Buffer
	err := purchaseConfirmationTmpl.Execute(&buf, map[string]string{
		"Product":  product,
		"Plan":     strings.ToLower(string(msg.Plan)),
		"Amount":   msg.Amount.String(),
		"Period":   period,
		"RenewsOn": msg.CurrentPeriodEnd.Format("January 2, 2006"),
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to render purchase confirmation: %w", err)
	}

	subject := fmt.Sprintf("Your %s Premium subscription is active", product)
	return subject, buf.String(), nil
}
