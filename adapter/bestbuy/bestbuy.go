// Package bestbuy is a stateless adapter over server-rendered pages: prices
// come from an embedded pricing JSON blob and each review carries its own
// JSON-LD record.
package bestbuy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/parser"
)

// Name is the source label used in output paths and metrics.
const Name = "bestbuy"

const defaultBaseURL = "https://www.bestbuy.com"

// Domains lists the hosts the fetcher may visit.
var Domains = []string{"www.bestbuy.com", "bestbuy.com"}

// Fetcher returns the body of a page. *scraper.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures the adapter.
type Options struct {
	BaseURL       string
	LinkCacheSize int
	Logger        *slog.Logger
}

// Adapter implements adapter.Adapter.
type Adapter struct {
	fetcher Fetcher
	baseURL string
	links   *lru.Cache[string, string]
	logger  *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds an adapter reading pages through fetcher.
func New(fetcher Fetcher, opts Options) (*Adapter, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.LinkCacheSize <= 0 {
		opts.LinkCacheSize = 1024
	}
	links, err := lru.New[string, string](opts.LinkCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create reviews link cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		links:   links,
		logger:  logger.With(slog.String("source", Name)),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) ProductURL(id string) string {
	return fmt.Sprintf("%s/site/%s.p?skuId=%s", a.baseURL, id, id)
}

// ReviewsURL is used when the product page did not expose its reviews link.
func (a *Adapter) ReviewsURL(id string) string {
	return fmt.Sprintf("%s/site/reviews/%s?variant=A", a.baseURL, id)
}

type priceEnvelope struct {
	App struct {
		PriceDomain struct {
			SkuID               flexString `json:"skuId"`
			RegularPrice        float64    `json:"regularPrice"`
			CurrentPrice        float64    `json:"currentPrice"`
			DotComDisplayStatus string     `json:"dotComDisplayStatus"`
		} `json:"priceDomain"`
	} `json:"app"`
}

func (a *Adapter) FetchProduct(ctx context.Context, id string) (models.Product, error) {
	body, err := a.fetcher.Fetch(ctx, a.ProductURL(id))
	if err != nil {
		return models.Product{}, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return models.Product{}, fmt.Errorf("parse product page: %w", err)
	}

	script := doc.Find(`script[id^="pricing-price-"]`).FilterFunction(func(_ int, s *goquery.Selection) bool {
		id, _ := s.Attr("id")
		return strings.HasSuffix(id, "-json")
	}).First()
	if script.Length() == 0 {
		return models.Product{}, fmt.Errorf("pricing data not found")
	}
	var prices priceEnvelope
	if err := json.Unmarshal([]byte(script.Text()), &prices); err != nil {
		return models.Product{}, fmt.Errorf("decode pricing data: %w", err)
	}
	domain := prices.App.PriceDomain

	product := models.Product{
		IdentifierCode:  string(domain.SkuID),
		Name:            parser.NormalizeText(doc.Find(".shop-product-title h1").First().Text()),
		BasePrice:       domain.RegularPrice,
		FinalPrice:      domain.CurrentPrice,
		InventoryStatus: domain.DotComDisplayStatus,
	}
	if product.IdentifierCode == "" {
		product.IdentifierCode = id
	}
	if product.BasePrice == 0 {
		product.BasePrice = product.FinalPrice
	}
	if err := parser.ValidateProduct(&product); err != nil {
		return models.Product{}, err
	}
	if err := parser.CheckPriceOrder(product); err != nil {
		a.logger.Warn("price order anomaly", slog.String("identifier", id), slog.Any("error", err))
	}

	if href, ok := doc.Find(".see-all-reviews-button-container a").First().Attr("href"); ok && href != "" {
		if link, err := a.resolve(href); err == nil {
			a.links.Add(id, link)
		}
	}
	return product, nil
}

func (a *Adapter) resolve(href string) (string, error) {
	base, err := url.Parse(a.baseURL + "/")
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// Reviews pages through the reviews link found on the product page, or
// ReviewsURL when FetchProduct has not seen one.
func (a *Adapter) Reviews(ctx context.Context, id string) (adapter.ReviewPager, error) {
	link, ok := a.links.Get(id)
	if !ok {
		link = a.ReviewsURL(id)
	}
	return &reviewPager{adapter: a, link: link}, nil
}

type reviewPager struct {
	adapter *Adapter
	link    string
	hasNext bool
}

func (p *reviewPager) pageURL(n int) string {
	sep := "?"
	if strings.Contains(p.link, "?") {
		sep = "&"
	}
	return p.link + sep + "sort=MOST_RECENT&page=" + strconv.Itoa(n)
}

func (p *reviewPager) FetchReviewPage(ctx context.Context, n int) ([]adapter.RawReview, error) {
	p.hasNext = false

	body, err := p.adapter.fetcher.Fetch(ctx, p.pageURL(n))
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse review page: %w", err)
	}

	items := doc.Find("li.review-item")
	if items.Length() == 0 {
		return nil, adapter.ErrEmptyPage
	}
	raw := make([]adapter.RawReview, 0, items.Length())
	items.Each(func(_ int, item *goquery.Selection) {
		raw = append(raw, rawReview{
			date:     item.Find("time.submission-date").First().Text(),
			record:   item.Find("script").First().Text(),
			verified: item.Find(".verified-purchaser").Length() > 0,
			helpful:  item.Find(".feedback-display").First().Text(),
		})
	})

	next := doc.Find(".pagination .next").First()
	_, ariaDisabled := next.Attr("aria-disabled")
	p.hasNext = next.Length() > 0 && !next.HasClass("disabled") && !ariaDisabled
	return raw, nil
}

func (p *reviewPager) HasNextPage(ctx context.Context) bool {
	return p.hasNext
}

type reviewRecord struct {
	Name       string `json:"name"`
	ReviewBody string `json:"reviewBody"`
	Author     struct {
		Name string `json:"name"`
	} `json:"author"`
	ReviewRating struct {
		RatingValue flexString `json:"ratingValue"`
	} `json:"reviewRating"`
}

type rawReview struct {
	date     string
	record   string
	verified bool
	helpful  string
}

func (r rawReview) Review() (models.Review, error) {
	if strings.TrimSpace(r.record) == "" {
		return models.Review{}, fmt.Errorf("review item has no structured data")
	}
	var record reviewRecord
	if err := json.Unmarshal([]byte(r.record), &record); err != nil {
		return models.Review{}, fmt.Errorf("decode review record: %w", err)
	}
	if record.Author.Name == "" {
		return models.Review{}, fmt.Errorf("review record missing author")
	}
	rating, err := parser.ParseRating(string(record.ReviewRating.RatingValue))
	if err != nil {
		return models.Review{}, err
	}

	review := models.Review{
		Author:           parser.NormalizeText(record.Author.Name),
		Content:          parser.NormalizeText(record.ReviewBody),
		Title:            parser.NormalizeText(record.Name),
		Rating:           rating,
		ReviewDate:       parser.NormalizeText(r.date),
		VerifiedPurchase: r.verified,
		HelpfulText:      parser.HelpfulOrDefault(r.helpful),
	}
	if err := parser.ValidateReview(&review); err != nil {
		return models.Review{}, err
	}
	return review, nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		return nil
	}
	*f = flexString(data)
	return nil
}

// LoadCookies reads a JSON object of cookie name to value, as exported from
// a browser profile. An empty path yields no cookies.
func LoadCookies(path string) ([]*http.Cookie, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookies file: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decode cookies file: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{Name: name, Value: value})
	}
	return cookies, nil
}
