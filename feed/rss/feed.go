package rss

import (
	"context"
	"fmt"

	"github.com/mmcdole/gofeed"
	"github.com/w-h-a/ragchat/feed"
)

type rssReader struct {
	parser *gofeed.Parser
}

func (r *rssReader) Fetch(ctx context.Context, url string, limit int) ([]feed.Document, error) {
	parsed, err := r.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	items := parsed.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	docs := make([]feed.Document, 0, len(items))

	for _, item := range items {
		body := item.Content
		if len(body) == 0 {
			body = item.Description
		}

		docs = append(docs, feed.Document{
			Title: item.Title,
			URL:   item.Link,
			Body:  body,
		})
	}

	return docs, nil
}

func NewReader() feed.Reader {
	return &rssReader{
		parser: gofeed.NewParser(),
	}
}
