package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	cardSelector  = ".card-event"
	titleSelector = ".card-event-title"
)

// Result is a single event card found on the search page.
type Result struct {
	Title string
	URL   string
}

// Kind classifies why a search produced no results.
type Kind string

const (
	KindNetwork Kind = "network"
	KindStatus  Kind = "status"
	KindParse   Kind = "parse"
)

// Error is returned when the search page could not be fetched or read.
// A reachable page without matching cards is not an error.
type Error struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("search: unexpected status %d", e.StatusCode)
	default:
		return fmt.Sprintf("search: %s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

type Options struct {
	BaseURL    string
	Locale     string
	MaxResults int
	UserAgent  string
	Timeout    time.Duration
	// RatePerSec limits outbound requests; zero disables the limit.
	RatePerSec float64
}

type Client struct {
	http    *http.Client
	base    *url.URL
	locale  string
	max     int
	ua      string
	limiter *rate.Limiter
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseURL)
	}
	c := &Client{
		http:   &http.Client{Timeout: opts.Timeout},
		base:   base,
		locale: strings.Trim(opts.Locale, "/"),
		max:    opts.MaxResults,
		ua:     opts.UserAgent,
	}
	if c.max <= 0 {
		c.max = 3
	}
	if opts.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), 1)
	}
	return c, nil
}

// SearchURL builds the search page address for query.
func (c *Client) SearchURL(query string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/")
	if c.locale != "" {
		u.Path += "/" + c.locale
	}
	u.Path += "/search"
	// Spaces must be %20, not '+', for the site's search route.
	u.RawQuery = "query=" + strings.ReplaceAll(url.QueryEscape(query), "+", "%20")
	return u.String()
}

// Search fetches the results page for query and returns at most MaxResults
// cards that carry both a title and a link. No cards yields nil, nil.
func (c *Client) Search(ctx context.Context, query string) ([]Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &Error{Kind: KindNetwork, Err: err}
		}
	}

	target := c.SearchURL(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("close search response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Kind: KindStatus, StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindParse, Err: err}
	}

	results := c.extract(doc)
	log.Debug().Str("query", query).Int("results", len(results)).Msg("search page parsed")
	return results, nil
}

func (c *Client) extract(doc *goquery.Document) []Result {
	var results []Result
	doc.Find(cardSelector).EachWithBreak(func(i int, card *goquery.Selection) bool {
		if i >= c.max {
			return false
		}
		title := strings.TrimSpace(card.Find(titleSelector).First().Text())
		href, ok := card.Find("a[href]").First().Attr("href")
		href = strings.TrimSpace(href)
		if title == "" || !ok || href == "" {
			return true
		}
		link, err := c.absolute(href)
		if err != nil {
			log.Debug().Err(err).Str("href", href).Msg("skip card with bad link")
			return true
		}
		results = append(results, Result{Title: title, URL: link})
		return true
	})
	return results
}

func (c *Client) absolute(href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	origin := url.URL{Scheme: c.base.Scheme, Host: c.base.Host}
	return origin.ResolveReference(ref).String(), nil
}
