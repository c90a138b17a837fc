// Package model holds the data types shared by the extractor, store,
// listener workers and the webhook sender.
package model

import "time"

// Reaction is a single emoji reaction tally on a post.
type Reaction struct {
	Emoji string `json:"emoji"`
	Count string `json:"count"`
}

// Post is a single message observed on a channel's public preview page.
// Identity is Id; once stored a post is never mutated or deleted by the
// core.
type Post struct {
	ID        string     `json:"id"`
	Author    *string    `json:"author,omitempty"`
	Text      *string    `json:"text,omitempty"`
	Media     []string   `json:"media,omitempty"`
	Reactions []Reaction `json:"reactions,omitempty"`
	Views     *string    `json:"views,omitempty"`
	Date      *string    `json:"date,omitempty"`
}

// ChannelCounters holds the display strings shown on a channel's info
// block. They are produced fresh on every poll and never persisted.
type ChannelCounters struct {
	Subscribers *string `json:"subscribers,omitempty"`
	Photos      *string `json:"photos,omitempty"`
	Videos      *string `json:"videos,omitempty"`
	Links       *string `json:"links,omitempty"`
}

// Channel is the channel metadata block of a parsed page.
type Channel struct {
	ID          string          `json:"id"`
	Name        *string         `json:"name,omitempty"`
	Image       *string         `json:"image,omitempty"`
	Description *string         `json:"description,omitempty"`
	Counters    ChannelCounters `json:"counters"`
}

// ChannelPage is the result of successfully parsing a public preview
// page: the channel metadata plus every post block found, in document
// order.
type ChannelPage struct {
	Channel Channel
	Posts   []Post
}

// WebhookPayload is the JSON body posted to a listener's webhook_url.
type WebhookPayload struct {
	Channel  Channel `json:"channel"`
	NewPosts []Post  `json:"new_posts"`
}

// GlobalListenerConfig holds the process-wide defaults that a
// ListenerConfig inherits from for any field left unset. It is mutable
// at runtime and broadcast to all live workers on change.
type GlobalListenerConfig struct {
	PollIntervalSeconds *int64  `json:"poll_interval_seconds,omitempty"`
	WebhookURL          *string `json:"webhook_url,omitempty"`
	WebhookSecret       *string `json:"webhook_secret,omitempty"`
	ProxyListURL        *string `json:"proxy_list_url,omitempty"`
}

// ListenerConfig is the caller-supplied, pre-merge configuration for
// one listener.
type ListenerConfig struct {
	ID                  string  `json:"id"`
	ChannelURL          string  `json:"channel_url"`
	PollIntervalSeconds *int64  `json:"poll_interval_seconds,omitempty"`
	WebhookURL          *string `json:"webhook_url,omitempty"`
	WebhookSecret       *string `json:"webhook_secret,omitempty"`
	ProxyListURL        *string `json:"proxy_list_url,omitempty"`
}

// Merge computes the effective configuration: for each optional field,
// the per-listener value if present and non-empty, else the global
// default. The receiver is left unmodified; a new value is returned.
func (c ListenerConfig) Merge(global GlobalListenerConfig) ListenerConfig {
	merged := c

	if merged.ProxyListURL == nil || *merged.ProxyListURL == "" {
		merged.ProxyListURL = global.ProxyListURL
	}
	if merged.WebhookSecret == nil || *merged.WebhookSecret == "" {
		merged.WebhookSecret = global.WebhookSecret
	}
	if merged.PollIntervalSeconds == nil {
		merged.PollIntervalSeconds = global.PollIntervalSeconds
	}
	if merged.WebhookURL == nil || *merged.WebhookURL == "" {
		merged.WebhookURL = global.WebhookURL
	}

	return merged
}

// PollInterval returns the effective poll interval as a Duration. The
// caller must have already merged and validated the config.
func (c ListenerConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds == nil {
		return 0
	}
	return time.Duration(*c.PollIntervalSeconds) * time.Second
}

// ListenerRow is the durable, persisted projection of an effective
// listener configuration. It mirrors ListenerConfig minus the secret.
type ListenerRow struct {
	ID           string `json:"id"`
	Active       bool   `json:"active"`
	PollInterval int64  `json:"poll_interval"`
	ChannelURL   string `json:"channel_url"`
	ProxyListURL string `json:"proxy_list_url,omitempty"`
	WebhookURL   string `json:"webhook_url"`
}

// ChannelURLPrefix is the only URL prefix a listener's channel_url may
// begin with.
const ChannelURLPrefix = "https://t.me/s/"

// MinPollIntervalSeconds is the minimum accepted poll interval.
const MinPollIntervalSeconds = 3
