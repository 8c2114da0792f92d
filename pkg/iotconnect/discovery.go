package iotconnect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// ErrNoEndpoint is returned when discovery succeeds but names no session URL.
var ErrNoEndpoint = errors.New("iotconnect: discovery returned no endpoint")

type discoveryResponse struct {
	D struct {
		URL string `json:"url"`
	} `json:"d"`
}

// Discover asks the discovery service for the session URL of a device.
func Discover(ctx context.Context, hc *http.Client, discoveryURL, cpid, env, uniqueID string) (string, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	endpoint := fmt.Sprintf("%s/api/v2.1/dsdk/cpId/%s/env/%s?%s",
		strings.TrimRight(discoveryURL, "/"),
		url.PathEscape(cpid),
		url.PathEscape(env),
		url.Values{"uniqueId": {uniqueID}}.Encode(),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query discovery: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	var out discoveryResponse
	if err := jsonStd.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if out.D.URL == "" {
		return "", ErrNoEndpoint
	}
	return out.D.URL, nil
}
