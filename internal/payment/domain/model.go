package domain

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Gateway is the outbound contract with a hosted-checkout payment provider.
type Gateway interface {
	CreatePreference(ctx context.Context, req PreferenceRequest) (*Preference, error)
	GetPayment(ctx context.Context, paymentID string) (*Payment, error)
}

// SignatureVerifier authenticates inbound provider notifications.
type SignatureVerifier interface {
	VerifyNotification(headers http.Header, dataID string) error
}

// Adapter is everything a provider integration implements.
type Adapter interface {
	Gateway
	SignatureVerifier
	Provider() string
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}

type AdapterConfig struct {
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	Timeout       time.Duration
	HTTPClient    *http.Client
}

type PreferenceItem struct {
	ID        string
	Title     string
	Quantity  int64
	UnitPrice int64
	Currency  string
}

type PreferenceRequest struct {
	// ExternalReference is echoed back on every payment for this checkout.
	ExternalReference string
	IdempotencyKey    string
	Items             []PreferenceItem
	PayerEmail        string
	NotificationURL   string
	SuccessURL        string
	FailureURL        string
	PendingURL        string
	ExpiresAt         time.Time
}

type Preference struct {
	ID                 string
	CheckoutURL        string
	SandboxCheckoutURL string
}

type PaymentStatus string

const (
	PaymentApproved    PaymentStatus = "approved"
	PaymentPending     PaymentStatus = "pending"
	PaymentInProcess   PaymentStatus = "in_process"
	PaymentAuthorized  PaymentStatus = "authorized"
	PaymentRejected    PaymentStatus = "rejected"
	PaymentCancelled   PaymentStatus = "cancelled"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentChargedBack PaymentStatus = "charged_back"
	PaymentInMediation PaymentStatus = "in_mediation"
)

func NormalizeStatus(raw string) PaymentStatus {
	return PaymentStatus(strings.ToLower(strings.TrimSpace(raw)))
}

// Terminal reports whether no further approval can follow this status.
func (s PaymentStatus) Terminal() bool {
	switch s {
	case PaymentRejected, PaymentCancelled, PaymentRefunded, PaymentChargedBack:
		return true
	default:
		return false
	}
}

// Payment is the provider's authoritative view of one payment attempt.
type Payment struct {
	ID                string          `json:"id"`
	Status            PaymentStatus   `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	Amount            int64           `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentMethod     string          `json:"payment_method"`
	PaymentType       string          `json:"payment_type"`
	PayerEmail        string          `json:"payer_email,omitempty"`
	DateApproved      *time.Time      `json:"date_approved,omitempty"`
	Raw               json.RawMessage `json:"-"`
}

type NotificationStatus string

const (
	NotificationPending   NotificationStatus = "pending"
	NotificationProcessed NotificationStatus = "processed"
	NotificationDead      NotificationStatus = "dead"
)

// Notification journals an inbound notification whose payment could not be
// fetched, so it can be replayed instead of lost.
type Notification struct {
	ID            snowflake.ID       `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Provider      string             `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_payment_notifications_key"`
	PaymentID     string             `json:"payment_id" gorm:"type:text;not null;uniqueIndex:ux_payment_notifications_key"`
	Topic         string             `json:"topic" gorm:"type:text;not null;uniqueIndex:ux_payment_notifications_key"`
	RequestID     string             `json:"request_id" gorm:"type:text;not null;default:''"`
	Payload       datatypes.JSON     `json:"payload" gorm:"type:jsonb"`
	Status        NotificationStatus `json:"status" gorm:"type:text;not null;index"`
	Attempts      int                `json:"attempts" gorm:"not null;default:0"`
	LastError     string             `json:"last_error" gorm:"type:text;not null;default:''"`
	NextAttemptAt time.Time          `json:"next_attempt_at" gorm:"not null;index"`
	ProcessedAt   *time.Time         `json:"processed_at"`
	CreatedAt     time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time          `json:"updated_at" gorm:"not null"`
}

func (Notification) TableName() string { return "payment_notifications" }

// Event is a parsed inbound notification.
type Event struct {
	Provider  string
	Topic     string
	Action    string
	DataID    string
	RequestID string
	LiveMode  bool
	Payload   []byte
}

// IsPayment reports whether the event refers to a payment resource.
func (e Event) IsPayment() bool {
	topic := strings.ToLower(strings.TrimSpace(e.Topic))
	return topic == "payment" || strings.HasPrefix(strings.ToLower(e.Action), "payment.")
}

type NotificationRepository interface {
	// Defer inserts or refreshes the journal row for an event and returns it.
	Defer(ctx context.Context, n *Notification) (*Notification, error)
	MarkProcessed(ctx context.Context, provider, paymentID, topic string, at time.Time) error
	MarkRetry(ctx context.Context, id snowflake.ID, attempts int, lastError string, next time.Time, status NotificationStatus, at time.Time) error
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Notification, error)
	List(ctx context.Context, status NotificationStatus, limit int) ([]*Notification, error)
}
