package mercadopago

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
)

// VerifyNotification checks the x-signature header. The signed manifest is
// "id:<data.id>;request-id:<x-request-id>;ts:<ts>;" with absent parts omitted.
// An adapter without a webhook secret accepts every notification.
func (a *Adapter) VerifyNotification(headers http.Header, dataID string) error {
	if a.webhookSecret == "" {
		return nil
	}
	return VerifySignature(a.webhookSecret, headers.Get("x-signature"), headers.Get("x-request-id"), dataID)
}

func VerifySignature(secret, signatureHeader, requestID, dataID string) error {
	ts, signatures := parseSignatureHeader(signatureHeader)
	if ts == "" || len(signatures) == 0 {
		return paymentdomain.ErrInvalidSignature
	}

	expected := Sign(secret, ts, requestID, dataID)
	for _, sig := range signatures {
		if hmac.Equal([]byte(strings.ToLower(sig)), []byte(expected)) {
			return nil
		}
	}
	return paymentdomain.ErrInvalidSignature
}

// Sign returns the hex HMAC-SHA256 of the notification manifest.
func Sign(secret, ts, requestID, dataID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(manifest(ts, requestID, dataID)))
	return hex.EncodeToString(mac.Sum(nil))
}

func manifest(ts, requestID, dataID string) string {
	var b strings.Builder
	if dataID = strings.TrimSpace(dataID); dataID != "" {
		b.WriteString("id:")
		b.WriteString(strings.ToLower(dataID))
		b.WriteString(";")
	}
	if requestID = strings.TrimSpace(requestID); requestID != "" {
		b.WriteString("request-id:")
		b.WriteString(requestID)
		b.WriteString(";")
	}
	b.WriteString("ts:")
	b.WriteString(ts)
	b.WriteString(";")
	return b.String()
}

func parseSignatureHeader(header string) (string, []string) {
	var (
		ts         string
		signatures []string
	)
	for _, part := range strings.Split(header, ",") {
		keyValue := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		switch key {
		case "ts":
			ts = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	return ts, signatures
}
