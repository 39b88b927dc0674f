package transport

import (
	"context"
	"errors"
	"testing"

	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmail struct {
	sent email.Message
	err  error
}

func (f *fakeEmail) Send(ctx context.Context, msg email.Message) error {
	f.sent = msg
	return f.err
}

type fakeWhatsApp struct {
	failAt int
	calls  int
}

func (f *fakeWhatsApp) SendText(ctx context.Context, to string, body string) (string, error) {
	f.calls++
	if f.calls == f.failAt {
		return "", errors.New("rate limited")
	}
	return "wamid." + to, nil
}

func TestEmailDeliversAllOrNothing(t *testing.T) {
	provider := &fakeEmail{}
	tr := NewEmail(provider)
	msg := &messagingdomain.Message{Recipients: []string{"a@x.mx", "b@x.mx"}, Subject: "s", Body: "b", Reference: "promo-1"}

	d, err := tr.Deliver(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Delivered)
	assert.Equal(t, msg.Recipients, provider.sent.To)
	assert.Equal(t, "promo-1", provider.sent.Reference)

	provider.err = errors.New("smtp down")
	d, err = tr.Deliver(context.Background(), msg)
	require.Error(t, err)
	assert.Zero(t, d.Delivered)
}

func TestWhatsAppStopsAtFirstFailure(t *testing.T) {
	provider := &fakeWhatsApp{failAt: 2}
	tr := NewWhatsApp(provider)

	d, err := tr.Deliver(context.Background(), &messagingdomain.Message{Recipients: []string{"1", "2", "3"}, Body: "hola"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recipient 2 of 3")
	assert.Equal(t, 1, d.Delivered)
	assert.Equal(t, []string{"wamid.1"}, d.MessageIDs)
	assert.Equal(t, 2, provider.calls)
}
