package pushmon

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/withObsrvr/qubic-explorer-core/logging"
	"github.com/withObsrvr/qubic-explorer-core/store"
)

// ErrSubscriptionGone is returned when the push endpoint reports the
// subscription no longer exists; the caller removes it
var ErrSubscriptionGone = errors.New("pushmon: subscription gone")

// Sender delivers one push payload to a subscription endpoint
type Sender interface {
	Send(ctx context.Context, sub *store.PushSubscription, payload []byte) error
}

// VAPIDKeys is the signing identity of the push sender
type VAPIDKeys struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// EnsureVAPIDKeys returns the configured key pair, generating an
// ephemeral one with a warning when none is configured. Ephemeral keys
// invalidate existing browser subscriptions on restart.
func EnsureVAPIDKeys(publicKey, privateKey, subject string, log *logging.ComponentLogger) (*VAPIDKeys, error) {
	if publicKey != "" && privateKey != "" {
		return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey, Subject: subject}, nil
	}

	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	log.Warn().
		Str("public_key", pub).
		Msg("No VAPID key pair configured, generated an ephemeral one; existing subscriptions will stop working on restart")
	return &VAPIDKeys{PublicKey: pub, PrivateKey: priv, Subject: subject}, nil
}

// WebPushSender sends notifications via the Web Push protocol
type WebPushSender struct {
	keys *VAPIDKeys
}

// NewWebPushSender creates a sender with the given VAPID identity
func NewWebPushSender(keys *VAPIDKeys) *WebPushSender {
	return &WebPushSender{keys: keys}
}

// Send pushes one payload; gone or not-found endpoints map to
// ErrSubscriptionGone
func (s *WebPushSender) Send(ctx context.Context, sub *store.PushSubscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		Subscriber:      s.keys.Subject,
		VAPIDPublicKey:  s.keys.PublicKey,
		VAPIDPrivateKey: s.keys.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("failed to send push: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusGone, http.StatusNotFound:
		return ErrSubscriptionGone
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
