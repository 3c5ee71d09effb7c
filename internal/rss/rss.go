package rss

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/deusflow/truthly/internal/logger"
	"github.com/deusflow/truthly/internal/metrics"
	"github.com/deusflow/truthly/internal/models"
	"github.com/deusflow/truthly/internal/scraper"
)

const (
	botUserAgent     = "Mozilla/5.0 (compatible; TruthlyBot/1.0)"
	defaultTimeout   = 8 * time.Second
	defaultItemLimit = 10
)

// Feed is one named RSS source.
type Feed struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// FeedsConfig is YAML config structure
// feeds:
//   - name: BBC World
//     url: https://...
type FeedsConfig struct {
	Feeds []Feed `yaml:"feeds"`
}

// DefaultFeeds is used when no feeds file is present.
var DefaultFeeds = []Feed{
	{Name: "BBC World", URL: "http://feeds.bbci.co.uk/news/world/rss.xml"},
	{Name: "BBC India", URL: "http://feeds.bbci.co.uk/news/world/asia/india/rss.xml"},
	{Name: "Reuters", URL: "https://feeds.reuters.com/reuters/topNews"},
	{Name: "The Hindu", URL: "https://www.thehindu.com/feeder/default.rss"},
	{Name: "Indian Express", URL: "https://indianexpress.com/section/india/feed/"},
	{Name: "Times of India", URL: "https://timesofindia.indiatimes.com/rssfeedstopstories.cms"},
	{Name: "NDTV", URL: "https://feeds.feedburner.com/ndtvnews-top-stories"},
	{Name: "Al Jazeera", URL: "https://www.aljazeera.com/xml/rss/all.xml"},
	{Name: "Associated Press", URL: "https://feeds.apnews.com/rss/apf-topnews"},
	{Name: "CNN", URL: "http://rss.cnn.com/rss/edition.rss"},
}

// LoadFeeds reads the feed list from a YAML file. A missing file yields
// DefaultFeeds; a malformed one is an error.
func LoadFeeds(path string) ([]Feed, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		logger.Warn("Feeds config not found, using defaults", "path", path)
		return DefaultFeeds, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg FeedsConfig
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode feeds config %s: %w", path, err)
	}

	var feeds []Feed
	for _, fd := range cfg.Feeds {
		if fd.URL == "" {
			continue
		}
		if fd.Name == "" {
			fd.Name = Domain(fd.URL)
		}
		feeds = append(feeds, fd)
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("feeds config %s lists no feeds", path)
	}
	return feeds, nil
}

type Aggregator struct {
	feeds     []Feed
	timeout   time.Duration
	itemLimit int
	client    *http.Client
}

func NewAggregator(feeds []Feed, timeout time.Duration, itemLimit int) *Aggregator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if itemLimit <= 0 {
		itemLimit = defaultItemLimit
	}
	return &Aggregator{
		feeds:     feeds,
		timeout:   timeout,
		itemLimit: itemLimit,
		client:    &http.Client{Timeout: timeout},
	}
}

func (a *Aggregator) Feeds() []Feed {
	return a.feeds
}

// FetchAll downloads every feed concurrently. A failing feed contributes
// nothing; the result keeps feed declaration order, then item order.
func (a *Aggregator) FetchAll(ctx context.Context) []models.FeedArticle {
	perFeed := make([][]models.FeedArticle, len(a.feeds))

	var g errgroup.Group
	for i, fd := range a.feeds {
		g.Go(func() error {
			articles, err := a.fetchFeed(ctx, fd)
			if err != nil {
				logger.Warn("Error parsing RSS", "source", fd.Name, "url", fd.URL, "error", err)
				metrics.ObserveFeedFetch(false)
				return nil
			}
			metrics.ObserveFeedFetch(true)
			perFeed[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	var all []models.FeedArticle
	ok := 0
	for _, articles := range perFeed {
		if articles != nil {
			ok++
		}
		all = append(all, articles...)
	}

	logger.Info("Processed RSS feeds", "ok", ok, "total", len(a.feeds), "articles", len(all))
	return all
}

func (a *Aggregator) fetchFeed(ctx context.Context, fd Feed) ([]models.FeedArticle, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	parser := gofeed.NewParser()
	parser.UserAgent = botUserAgent
	parser.Client = a.client

	feed, err := parser.ParseURLWithContext(fd.URL, ctx)
	if err != nil {
		return nil, err
	}

	items := feed.Items
	if len(items) > a.itemLimit {
		items = items[:a.itemLimit]
	}

	articles := make([]models.FeedArticle, 0, len(items))
	for _, item := range items {
		articles = append(articles, toArticle(item, fd.Name))
	}

	logger.Debug("Loaded feed", "source", fd.Name, "articles", len(articles))
	return articles, nil
}

func toArticle(item *gofeed.Item, source string) models.FeedArticle {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = "No title"
	}

	link := item.Link
	if link == "" {
		link = item.GUID
	}

	raw := item.Description
	if raw == "" {
		raw = item.Content
	}

	pub := time.Now()
	switch {
	case item.PublishedParsed != nil:
		pub = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		pub = *item.UpdatedParsed
	}

	return models.FeedArticle{
		Title:   title,
		URL:     link,
		Snippet: StripHTML(raw),
		PubDate: pub,
		Source:  source,
		Domain:  Domain(item.Link),
	}
}

// StripHTML returns the visible text of an HTML fragment.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return scraper.CleanText(s, 0)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return scraper.CleanText(s, 0)
	}
	return scraper.CleanText(doc.Text(), 0)
}

// Domain returns the host without a leading "www.", or "Unknown".
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Hostname() == "" {
		return "Unknown"
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// FilterByTopic keeps articles whose title or snippet contains topic,
// ignoring case.
func FilterByTopic(articles []models.FeedArticle, topic string) []models.FeedArticle {
	needle := strings.ToLower(strings.TrimSpace(topic))
	var out []models.FeedArticle
	for _, a := range articles {
		if strings.Contains(strings.ToLower(a.Title), needle) ||
			strings.Contains(strings.ToLower(a.Snippet), needle) {
			out = append(out, a)
		}
	}
	return out
}
