package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment は受講登録に対する支払いを表す。
// InvoiceCodeは HD-DDMMYYYY-NNNN 形式で一意。Amountは受講登録価格のスナップショット。
type Payment struct {
	ID            string
	InvoiceCode   string
	EnrollmentID  string
	UserID        string
	Amount        decimal.Decimal
	PaymentMethod string
	Status        PaymentStatus
	TransactionID *string
	BillingInfo   *BillingInfo
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BillingInfo は請求先情報を表す。
type BillingInfo struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	TaxCode string `json:"tax_code,omitempty"`
}
