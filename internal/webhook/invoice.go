package webhook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
)

// InvoiceArchive produces the invoice document for a completed payment and
// stores it, returning a URL. Document rendering and object storage live
// outside this service; this is their boundary.
type InvoiceArchive interface {
	Store(ctx context.Context, invoiceNumber string, receipt domain.PaymentSuccessPayload) (string, error)
}

// StaticInvoiceArchive stands in for the document-storage collaborator:
// it returns a deterministic URL under a base address where the main
// backend serves invoices.
type StaticInvoiceArchive struct {
	BaseURL string
	log     *zap.Logger
}

func NewStaticInvoiceArchive(baseURL string, log *zap.Logger) *StaticInvoiceArchive {
	return &StaticInvoiceArchive{
		BaseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named("invoice"),
	}
}

func (a *StaticInvoiceArchive) Store(_ context.Context, invoiceNumber string, receipt domain.PaymentSuccessPayload) (string, error) {
	url := fmt.Sprintf("%s/documents/invoices/%s.pdf", a.BaseURL, invoiceNumber)
	a.log.Info("invoice archived",
		zap.String("invoice_number", invoiceNumber),
		zap.String("patient", receipt.PatientName),
		zap.String("url", url),
		zap.Time("at", time.Now()))
	return url, nil
}
