package webhook

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
)

type notificationBody struct {
	Action   string `json:"action"`
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	LiveMode bool   `json:"live_mode"`
	Data     struct {
		ID flexibleID `json:"id"`
	} `json:"data"`
	Resource string `json:"resource"`
}

// Parse accepts both webhook JSON bodies and the older query-string form
// (?topic=payment&id=123). Query parameters win over the body.
func Parse(provider string, headers http.Header, query url.Values, payload []byte) (*paymentdomain.Event, error) {
	event := &paymentdomain.Event{
		Provider:  provider,
		RequestID: strings.TrimSpace(headers.Get("x-request-id")),
		Payload:   payload,
	}

	if len(strings.TrimSpace(string(payload))) > 0 {
		var body notificationBody
		if err := json.Unmarshal(payload, &body); err != nil {
			return nil, paymentdomain.ErrInvalidPayload
		}
		event.Action = strings.TrimSpace(body.Action)
		event.Topic = firstNonEmpty(body.Type, body.Topic)
		event.DataID = string(body.Data.ID)
		event.LiveMode = body.LiveMode
		if event.DataID == "" && body.Resource != "" {
			event.DataID = lastPathSegment(body.Resource)
		}
	}

	if topic := firstNonEmpty(query.Get("type"), query.Get("topic")); topic != "" {
		event.Topic = topic
	}
	if id := firstNonEmpty(query.Get("data.id"), query.Get("id")); id != "" {
		event.DataID = id
	}

	event.Topic = strings.ToLower(strings.TrimSpace(event.Topic))
	event.DataID = strings.TrimSpace(event.DataID)
	if event.Topic == "" && event.Action == "" {
		return nil, paymentdomain.ErrInvalidPayload
	}
	return event, nil
}

// flexibleID accepts ids sent as either JSON strings or numbers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func lastPathSegment(resource string) string {
	resource = strings.TrimRight(strings.TrimSpace(resource), "/")
	if idx := strings.LastIndex(resource, "/"); idx >= 0 {
		return resource[idx+1:]
	}
	return resource
}
