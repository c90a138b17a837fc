// Package extractor turns the HTML of a "https://t.me/s/<channel>"
// public preview page into the typed ChannelPage the rest of the
// system works with. It is a pure function of HTTP + HTML; it never
// touches the store.
package extractor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kitfc/litehook/internal/model"
)

// FetchHTML performs an HTTP GET against url and returns the response
// body as text. Network and timeout errors are surfaced to the caller.
func FetchHTML(ctx context.Context, client *http.Client, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("extractor: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("extractor: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("extractor: read body of %s: %w", url, err)
	}

	return string(body), nil
}

// ParsePage extracts the channel metadata and every visible post block,
// in document order. It returns (nil, nil) when no channel-info block
// is found — that is treated as "not a valid public channel page",
// never as an error.
func ParsePage(html string) (*model.ChannelPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("extractor: parse html: %w", err)
	}

	info := doc.Find("div.tgme_channel_info").First()
	if info.Length() == 0 {
		return nil, nil
	}

	channel := parseChannel(info)

	var posts []model.Post
	doc.Find("div.tgme_widget_message_wrap").Each(func(_ int, wrap *goquery.Selection) {
		posts = append(posts, parsePost(wrap))
	})

	return &model.ChannelPage{Channel: channel, Posts: posts}, nil
}

func parseChannel(info *goquery.Selection) model.Channel {
	id := strings.TrimPrefix(wholeText(info.Find("div.tgme_channel_info_header_username a").First()), "@")

	var name *string
	if n := info.Find("div.tgme_channel_info_header_title span").First(); n.Length() > 0 {
		name = strPtr(wholeText(n))
	}

	var image *string
	if img := info.Find("i.tgme_page_photo_image img").First(); img.Length() > 0 {
		if src, ok := img.Attr("src"); ok {
			image = strPtr(src)
		}
	}

	var description *string
	if d := info.Find("div.tgme_channel_info_description").First(); d.Length() > 0 {
		inner, _ := d.Html()
		description = strPtr(htmlToMarkdown(inner))
	}

	return model.Channel{
		ID:          id,
		Name:        name,
		Image:       image,
		Description: description,
		Counters:    parseCounters(info.Find("div.tgme_channel_info_counters").First()),
	}
}

func parseCounters(counters *goquery.Selection) model.ChannelCounters {
	var out model.ChannelCounters
	if counters.Length() == 0 {
		return out
	}

	counters.Find("div.tgme_channel_info_counter").Each(func(_ int, block *goquery.Selection) {
		value := wholeText(block.Find("span.counter_value").First())
		kind := strings.TrimSuffix(wholeText(block.Find("span.counter_type").First()), "s")

		switch kind {
		case "subscriber":
			out.Subscribers = strPtr(value)
		case "photo":
			out.Photos = strPtr(value)
		case "video":
			out.Videos = strPtr(value)
		case "link":
			out.Links = strPtr(value)
		}
	})

	return out
}

func parsePost(wrap *goquery.Selection) model.Post {
	msg := wrap.Find("div.tgme_widget_message[data-post]").First()
	if msg.Length() == 0 {
		return model.Post{}
	}

	id, _ := msg.Attr("data-post")

	post := model.Post{ID: id}

	if a := msg.Find("div.tgme_widget_message_author a.tgme_widget_message_owner_name span").First(); a.Length() > 0 {
		post.Author = strPtr(wholeText(a))
	}

	if t := msg.Find("div.tgme_widget_message_text").First(); t.Length() > 0 {
		inner, _ := t.Html()
		post.Text = strPtr(htmlToMarkdown(inner))
	}

	if v := msg.Find("span.tgme_widget_message_views").First(); v.Length() > 0 {
		post.Views = strPtr(wholeText(v))
	}

	if d := msg.Find("a.tgme_widget_message_date time").First(); d.Length() > 0 {
		if dt, ok := d.Attr("datetime"); ok {
			post.Date = strPtr(dt)
		}
	}

	post.Media = parseMedia(msg)
	post.Reactions = parseReactions(msg)

	return post
}

var bgImageRe = regexp.MustCompile(`background-image:\s*url\('?([^'")]+)'?\)`)

func parseMedia(msg *goquery.Selection) []string {
	var media []string
	msg.Find("[style*=\"background-image\"]").Each(func(_ int, el *goquery.Selection) {
		style, ok := el.Attr("style")
		if !ok {
			return
		}
		if m := bgImageRe.FindStringSubmatch(style); m != nil {
			media = append(media, m[1])
		}
	})
	return media
}

func parseReactions(msg *goquery.Selection) []model.Reaction {
	var reactions []model.Reaction
	msg.Find("div.tgme_widget_message_reaction").Each(func(_ int, el *goquery.Selection) {
		reactions = append(reactions, splitReaction(wholeText(el)))
	})
	return reactions
}

// splitReaction splits a reaction's whole text, e.g. "👍42", into its
// emoji and count by walking runes up to the first digit, stripping
// the emoji glyph off the front and trimming what remains.
func splitReaction(text string) model.Reaction {
	runes := []rune(text)
	i := 0
	for i < len(runes) && (runes[i] < '0' || runes[i] > '9') {
		i++
	}
	return model.Reaction{
		Emoji: strings.TrimSpace(string(runes[:i])),
		Count: strings.TrimSpace(string(runes[i:])),
	}
}

func wholeText(sel *goquery.Selection) string {
	return strings.TrimSpace(sel.Text())
}

func strPtr(s string) *string { return &s }
