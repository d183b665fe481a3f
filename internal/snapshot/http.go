package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// HTTPStore talks to the snapshot API served by the relay.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

// NewHTTPStore: baseURL is the server root, e.g. http://localhost:8080
func NewHTTPStore(baseURL string, client *http.Client) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

func (s *HTTPStore) endpoint(id string) string {
	return s.baseURL + "/api/v1/whiteboards/" + url.PathEscape(id)
}

func (s *HTTPStore) Get(ctx context.Context, id string) (*Record, error) {
	res, err := s.do(ctx, http.MethodGet, id, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if err := expectStatus(res, http.StatusOK, "get snapshot "+id); err != nil {
		return nil, err
	}

	var rec Record
	if err := json.NewDecoder(res.Body).Decode(&rec); err != nil {
		return nil, errors.Wrapf(err, "decode snapshot %s", id)
	}
	return &rec, nil
}

func (s *HTTPStore) Upsert(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}

	res, err := s.do(ctx, http.MethodPut, rec.ID, rec)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return expectStatus(res, http.StatusNoContent, "upsert snapshot "+rec.ID)
}

func (s *HTTPStore) SetCollaboration(ctx context.Context, id string, enabled bool) error {
	body := map[string]bool{"collaborationEnabled": enabled}
	res, err := s.do(ctx, http.MethodPatch, id, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	return expectStatus(res, http.StatusNoContent, "update snapshot "+id)
}

func (s *HTTPStore) do(ctx context.Context, method, id string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "marshal request")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.endpoint(id), reader)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := s.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, req.URL.Path)
	}
	return res, nil
}

// expectStatus maps 404 to ErrNotFound and any other unexpected status to an error
func expectStatus(res *http.Response, expected int, msg string) error {
	switch res.StatusCode {
	case expected:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	}

	detail, _ := io.ReadAll(io.LimitReader(res.Body, 512))
	return errors.Errorf("%s: got HTTP status %d: %s", msg, res.StatusCode, strings.TrimSpace(string(detail)))
}
