package service

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/akylbek/payment-system/checkout-service/internal/models"
	"github.com/akylbek/payment-system/checkout-service/internal/telemetry"
	"github.com/akylbek/payment-system/checkout-service/internal/vietqr"
)

const qrImageSize = 320

// PayeeAccount is the merchant bank account buyers transfer to.
type PayeeAccount struct {
	BankName      string
	BankBIN       string
	AccountNumber string
	AccountName   string
	// QRImageURLTemplate may reference {bin}, {account}, {name}, {amount} and {content}.
	QRImageURLTemplate string
}

// CheckoutService is the entry point of a storefront checkout request.
type CheckoutService struct {
	sessions *SessionManager
	cod      *CODSettler
	payee    PayeeAccount
}

func NewCheckoutService(sessions *SessionManager, cod *CODSettler, payee PayeeAccount) *CheckoutService {
	return &CheckoutService{sessions: sessions, cod: cod, payee: payee}
}

func (c *CheckoutService) Checkout(ctx context.Context, in models.CreateSessionInput) (*models.CheckoutResult, error) {
	switch in.PaymentMethod {
	case models.MethodCOD:
		return c.cod.Checkout(ctx, in)
	case models.MethodBankTransfer:
		s, err := c.sessions.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		return &models.CheckoutResult{Session: s, Instructions: c.Instructions(s)}, nil
	default:
		return nil, invalid("payment_method", "must be one of %s, %s", models.MethodBankTransfer, models.MethodCOD)
	}
}

func (c *CheckoutService) Session(ctx context.Context, id string) (*models.CheckoutSession, error) {
	return c.sessions.Get(ctx, id)
}

func (c *CheckoutService) ConfirmCashReceived(ctx context.Context, id string) (*models.CheckoutSession, error) {
	return c.cod.ConfirmCashReceived(ctx, id)
}

// Instructions returns what the buyer needs to pay s by bank transfer. QR codes
// are only produced for VND sessions.
func (c *CheckoutService) Instructions(s *models.CheckoutSession) *models.PaymentInstructions {
	in := &models.PaymentInstructions{
		BankName:        c.payee.BankName,
		AccountNumber:   c.payee.AccountNumber,
		AccountName:     c.payee.AccountName,
		Amount:          s.Amount,
		TransferContent: s.PaymentCode,
	}

	if !strings.EqualFold(s.Currency, vietqr.Currency) {
		// VietQR transfers are VND only; a QR in another currency would be scanned as VND.
		telemetry.Logger.Warn("Skipping payment QR for non-VND session",
			zap.String("session_id", s.ID),
			zap.String("currency", s.Currency),
		)
		return in
	}

	if c.payee.QRImageURLTemplate != "" {
		in.QRImageURL = strings.NewReplacer(
			"{bin}", url.PathEscape(c.payee.BankBIN),
			"{account}", url.PathEscape(c.payee.AccountNumber),
			"{name}", url.QueryEscape(c.payee.AccountName),
			"{amount}", strconv.FormatInt(s.Amount, 10),
			"{content}", url.QueryEscape(s.PaymentCode),
		).Replace(c.payee.QRImageURLTemplate)
	}

	if c.payee.BankBIN != "" && c.payee.AccountNumber != "" {
		payload, err := vietqr.Payload(vietqr.Account{
			BankBIN:       c.payee.BankBIN,
			AccountNumber: c.payee.AccountNumber,
		}, s.Amount, s.PaymentCode)
		if err == nil {
			in.QRDataURI, err = vietqr.RenderDataURI(payload, qrImageSize)
		}
		if err != nil {
			telemetry.Logger.Warn("Failed to render payment QR",
				zap.String("session_id", s.ID),
				zap.Error(err),
			)
		}
	}
	return in
}
