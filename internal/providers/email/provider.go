package email

import "context"

// Message is one campaign email. Reference, when set, is sent as the
// X-Campaign-Reference header so bounces can be traced to a send.
type Message struct {
	To        []string
	Subject   string
	HTMLBody  string
	TextBody  string
	Reference string
}

type Provider interface {
	Send(ctx context.Context, msg Message) error
}

type NoOpProvider struct{}

func (p *NoOpProvider) Send(ctx context.Context, msg Message) error {
	return nil
}
