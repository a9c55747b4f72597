// Package webhook implements outbound webhook delivery for flag and
// environment mutations: configuration validation, a private-network guard,
// template-driven payload rendering, and HTTP dispatch with bounded retries.
package webhook

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/phlag/phlagd/internal/repository"
)

var (
	ErrURLRequired           = errors.New("webhook url is required")
	ErrURLInvalid            = errors.New("webhook url is not a valid absolute URL")
	ErrHTTPSRequired         = errors.New("webhook url must use https")
	ErrEventTypesRequired    = errors.New("webhook event types are required")
	ErrEventTypesInvalidJSON = errors.New("webhook event types are not valid JSON")
	ErrEventTypesEmpty       = errors.New("webhook event types must not be empty")
	ErrHeadersInvalidJSON    = errors.New("webhook headers are not valid JSON")
)

// localTestHosts may use plain http so webhooks can be exercised against a
// local listener without a certificate.
var localTestHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
}

// Validate checks a webhook configuration before save. Rules apply in order
// and the first failure wins, so callers always get one specific reason.
func Validate(webhook repository.Webhook) error {
	rawURL := strings.TrimSpace(webhook.URL)
	if rawURL == "" {
		return ErrURLRequired
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return ErrURLInvalid
	}

	switch parsed.Scheme {
	case "https":
	case "http":
		if !localTestHosts[parsed.Hostname()] {
			return ErrHTTPSRequired
		}
	default:
		return ErrHTTPSRequired
	}

	if len(strings.TrimSpace(string(webhook.EventTypes))) == 0 {
		return ErrEventTypesRequired
	}

	var eventTypes []string
	if err := json.Unmarshal(webhook.EventTypes, &eventTypes); err != nil {
		return ErrEventTypesInvalidJSON
	}
	if len(eventTypes) == 0 {
		return ErrEventTypesEmpty
	}

	if len(webhook.Headers) > 0 {
		var headers map[string]string
		if err := json.Unmarshal(webhook.Headers, &headers); err != nil {
			return ErrHeadersInvalidJSON
		}
	}

	return nil
}

// SubscribedTo reports whether the webhook's stored event-type set contains
// eventType. Event types are an open string set; unknown names stored by a
// newer writer simply never match until this binary learns to emit them.
func SubscribedTo(webhook repository.Webhook, eventType string) bool {
	var eventTypes []string
	if err := json.Unmarshal(webhook.EventTypes, &eventTypes); err != nil {
		return false
	}

	for _, candidate := range eventTypes {
		if candidate == eventType {
			return true
		}
	}

	return false
}

// CustomHeaders decodes the webhook's stored header object. Invalid JSON
// yields no headers; the validator rejects it before save, so this is only a
// safety net for rows written before validation existed.
func CustomHeaders(webhook repository.Webhook) map[string]string {
	if len(webhook.Headers) == 0 {
		return nil
	}

	var headers map[string]string
	if err := json.Unmarshal(webhook.Headers, &headers); err != nil {
		return nil
	}

	return headers
}
