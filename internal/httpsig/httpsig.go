// Package httpsig is the HTTP-signature boundary of the federation
// layer: it signs outbound activity deliveries and verifies inbound
// inbox requests. Signature mechanics are delegated to go-fed/httpsig.
package httpsig

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-fed/httpsig"

	"github.com/loreweave/loreweave/internal/directory"
	"github.com/loreweave/loreweave/pkg/activity"
)

const contentType = "application/activity+json"

var signedHeaders = []string{httpsig.RequestTarget, "host", "date", "digest"}

// Client delivers signed activities to remote inboxes.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

func NewClient(log *slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log,
	}
}

// SignAndSend serializes the activity, signs the request with the
// actor's private key and posts it to the recipient inbox. A non-2xx
// response is a delivery failure; the caller logs and drops it.
func (c *Client) SignAndSend(ctx context.Context, act *activity.Activity, inboxURL, keyID string, key *rsa.PrivateKey) error {
	body, err := json.Marshal(act)
	if err != nil {
		return fmt.Errorf("marshal activity %s: %w", act.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, inboxURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		signedHeaders,
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("build signer: %w", err)
	}
	if err := signer.SignRequest(key, keyID, req, body); err != nil {
		return fmt.Errorf("sign delivery to %s: %w", inboxURL, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("deliver %s to %s: %w", act.Type, inboxURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("deliver %s to %s: status %d", act.Type, inboxURL, resp.StatusCode)
	}
	return nil
}

// VerifyRequest checks an inbound inbox request against the sender's
// published public key and returns the key id the request named.
func VerifyRequest(r *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return "", fmt.Errorf("parse request signature: %w", err)
	}

	key, err := directory.ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}
	if err := verifier.Verify(key, httpsig.RSA_SHA256); err != nil {
		return verifier.KeyId(), fmt.Errorf("verify request signature: %w", err)
	}
	return verifier.KeyId(), nil
}
