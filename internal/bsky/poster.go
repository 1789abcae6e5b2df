package bsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Poster publishes reply posts as the bot account. It holds an
// app-password session, re-authenticating once on expiry.
type Poster struct {
	httpClient *http.Client
	service    string
	identifier string
	password   string
	logger     *slog.Logger

	mu        sync.Mutex
	accessJWT string
	did       string
}

// NewPoster creates a posting client for the bot account
func NewPoster(service, identifier, password string, logger *slog.Logger) *Poster {
	return &Poster{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		service:    service,
		identifier: identifier,
		password:   password,
		logger:     logger,
	}
}

// login creates a fresh session and caches the access token
func (p *Poster) login(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{
		"identifier": p.identifier,
		"password":   p.password,
	})
	if err != nil {
		return fmt.Errorf("encoding session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.service+"/xrpc/com.atproto.server.createSession", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("session request returned %d: %s", resp.StatusCode, body)
	}

	var session struct {
		AccessJWT string `json:"accessJwt"`
		DID       string `json:"did"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("decoding session: %w", err)
	}

	p.mu.Lock()
	p.accessJWT = session.AccessJWT
	p.did = session.DID
	p.mu.Unlock()

	p.logger.Info("bot session established", "did", session.DID)
	return nil
}

// Reply posts text as a reply under parent, rooted at root
func (p *Poster) Reply(ctx context.Context, text string, parent, root StrongRef) error {
	p.mu.Lock()
	authed := p.accessJWT != ""
	p.mu.Unlock()
	if !authed {
		if err := p.login(ctx); err != nil {
			return err
		}
	}

	status, err := p.createPost(ctx, text, parent, root)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		// Session expired; one re-auth attempt
		if err := p.login(ctx); err != nil {
			return err
		}
		status, err = p.createPost(ctx, text, parent, root)
		if err != nil {
			return err
		}
	}
	if status != http.StatusOK {
		return fmt.Errorf("create record returned %d", status)
	}
	return nil
}

func (p *Poster) createPost(ctx context.Context, text string, parent, root StrongRef) (int, error) {
	p.mu.Lock()
	token := p.accessJWT
	did := p.did
	p.mu.Unlock()

	record := map[string]any{
		"$type":     CollectionPost,
		"text":      text,
		"createdAt": time.Now().UTC().Format(time.RFC3339),
		"reply": ReplyRef{
			Root:   root,
			Parent: parent,
		},
	}
	payload, err := json.Marshal(map[string]any{
		"repo":       did,
		"collection": CollectionPost,
		"record":     record,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding post record: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.service+"/xrpc/com.atproto.repo.createRecord", bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("building post request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("creating post record: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, nil
}
