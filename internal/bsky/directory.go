package bsky

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// RepoDescription identifies an account and its home server
type RepoDescription struct {
	DID    string
	Handle string
	PDS    string
}

// ProfileRecord is the actor profile record stored on the account's PDS
type ProfileRecord struct {
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Pronouns    string `json:"pronouns"`
}

// Directory resolves accounts, profiles and follow lists against the
// public AT-proto API and per-account home servers. Lookups that find
// nothing return (nil, nil); errors mean the upstream was unreachable.
type Directory struct {
	httpClient *http.Client
	publicAPI  string
	logger     *slog.Logger
}

// NewDirectory creates a directory client over the public API endpoint
func NewDirectory(publicAPI string, logger *slog.Logger) *Directory {
	return &Directory{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		publicAPI:  publicAPI,
		logger:     logger,
	}
}

// getJSON issues a GET and decodes the JSON body into out
func (d *Directory) getJSON(ctx context.Context, rawurl string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory returned %d: %s", resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding directory response: %w", err)
	}
	return nil
}

// DescribeRepo looks up an account by DID or handle and returns its
// identifier, handle and home-server endpoint
func (d *Directory) DescribeRepo(ctx context.Context, actor string) (*RepoDescription, error) {
	u := fmt.Sprintf("%s/xrpc/com.atproto.repo.describeRepo?repo=%s", d.publicAPI, url.QueryEscape(actor))

	var body struct {
		DID    string `json:"did"`
		Handle string `json:"handle"`
		DIDDoc struct {
			Service []struct {
				ServiceEndpoint string `json:"serviceEndpoint"`
			} `json:"service"`
		} `json:"didDoc"`
	}
	if err := d.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	if body.DID == "" {
		return nil, nil
	}

	desc := &RepoDescription{DID: body.DID, Handle: body.Handle}
	if len(body.DIDDoc.Service) > 0 {
		desc.PDS = body.DIDDoc.Service[0].ServiceEndpoint
	}
	return desc, nil
}

type listRecordsResponse struct {
	Cursor  string `json:"cursor"`
	Records []struct {
		URI   string          `json:"uri"`
		CID   string          `json:"cid"`
		Value json.RawMessage `json:"value"`
	} `json:"records"`
}

// listRecords fetches one page of a collection from the account's PDS
func (d *Directory) listRecords(ctx context.Context, pds, did, collection, cursor string) (*listRecordsResponse, error) {
	u := fmt.Sprintf("%s/xrpc/com.atproto.repo.listRecords?repo=%s&collection=%s",
		pds, url.QueryEscape(did), url.QueryEscape(collection))
	if cursor != "" {
		u += "&cursor=" + url.QueryEscape(cursor)
	}
	var body listRecordsResponse
	if err := d.getJSON(ctx, u, &body); err != nil {
		return nil, err
	}
	return &body, nil
}

// FetchProfile reads the actor profile record from the account's PDS
func (d *Directory) FetchProfile(ctx context.Context, pds, did string) (*ProfileRecord, error) {
	page, err := d.listRecords(ctx, pds, did, "app.bsky.actor.profile", "")
	if err != nil {
		return nil, err
	}
	if len(page.Records) == 0 {
		return nil, nil
	}
	var rec ProfileRecord
	if err := json.Unmarshal(page.Records[0].Value, &rec); err != nil {
		return nil, fmt.Errorf("decoding profile record: %w", err)
	}
	return &rec, nil
}

// ListFollows pages through the account's follow records and returns the
// followed DIDs, looping until the cursor is absent
func (d *Directory) ListFollows(ctx context.Context, pds, did string) ([]string, error) {
	var follows []string
	cursor := ""
	for {
		page, err := d.listRecords(ctx, pds, did, "app.bsky.graph.follow", cursor)
		if err != nil {
			return nil, err
		}
		for _, rec := range page.Records {
			var value struct {
				Subject string `json:"subject"`
			}
			if err := json.Unmarshal(rec.Value, &value); err != nil {
				d.logger.Warn("skipping undecodable follow record", "uri", rec.URI, "error", err)
				continue
			}
			follows = append(follows, value.Subject)
		}
		if page.Cursor == "" {
			return follows, nil
		}
		cursor = page.Cursor
	}
}
