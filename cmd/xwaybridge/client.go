package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/xwaybridge/xwaybridge"
)

func fetchHistory(apiURL string, limit int, timeout time.Duration) ([]xwaybridge.HistoryEvent, error) {
	client := &http.Client{Timeout: timeout}
	url := fmt.Sprintf("%s/history?limit=%d", strings.TrimSuffix(apiURL, "/"), limit)
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: %s", resp.Status)
	}
	var events []xwaybridge.HistoryEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return events, nil
}

func fetchStatus(apiURL string, timeout time.Duration) (xwaybridge.Status, error) {
	var st xwaybridge.Status
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(strings.TrimSuffix(apiURL, "/") + "/status")
	if err != nil {
		return st, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("status request failed: %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("decode status: %w", err)
	}
	return st, nil
}
