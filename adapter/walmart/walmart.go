// Package walmart is a stateless adapter that reads the __NEXT_DATA__ JSON
// document embedded in product and review pages.
package walmart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/parser"
)

// Name is the source label used in output paths and metrics.
const Name = "walmart"

const (
	defaultBaseURL   = "https://www.walmart.com"
	verifiedBadgeID  = "VerifiedPurchaser"
	nextDataSelector = "script#__NEXT_DATA__"
)

// Domains lists the hosts the fetcher may visit.
var Domains = []string{"www.walmart.com", "walmart.com"}

// Fetcher returns the body of a page. *scraper.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Options configures the adapter.
type Options struct {
	BaseURL string
	Logger  *slog.Logger
}

// Adapter implements adapter.Adapter.
type Adapter struct {
	fetcher Fetcher
	baseURL string
	logger  *slog.Logger
}

var _ adapter.Adapter = (*Adapter)(nil)

// New builds an adapter reading pages through fetcher.
func New(fetcher Fetcher, opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		logger:  logger.With(slog.String("source", Name)),
	}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) ProductURL(id string) string {
	return fmt.Sprintf("%s/ip/%s", a.baseURL, id)
}

func (a *Adapter) ReviewsURL(id string) string {
	return fmt.Sprintf("%s/reviews/product/%s?sort=submission-desc", a.baseURL, id)
}

// nextData mirrors the parts of __NEXT_DATA__ this adapter reads.
type nextData struct {
	Props struct {
		PageProps struct {
			InitialData struct {
				Data struct {
					Product *productData `json:"product"`
					Reviews *reviewsData `json:"reviews"`
				} `json:"data"`
			} `json:"initialData"`
		} `json:"pageProps"`
	} `json:"props"`
}

type price struct {
	Price float64 `json:"price"`
}

type productData struct {
	USItemID           string `json:"usItemId"`
	Name               string `json:"name"`
	AvailabilityStatus string `json:"availabilityStatus"`
	PriceInfo          struct {
		WasPrice     *price `json:"wasPrice"`
		CurrentPrice *price `json:"currentPrice"`
	} `json:"priceInfo"`
}

type reviewsData struct {
	// Kept raw so one malformed review cannot fail the page.
	CustomerReviews []json.RawMessage `json:"customerReviews"`
	Pagination      struct {
		Next *struct {
			URL string `json:"url"`
			Num int    `json:"num"`
		} `json:"next"`
	} `json:"pagination"`
}

type customerReview struct {
	UserNickname         string  `json:"userNickname"`
	ReviewText           string  `json:"reviewText"`
	Rating               float64 `json:"rating"`
	ReviewTitle          string  `json:"reviewTitle"`
	ReviewSubmissionTime string  `json:"reviewSubmissionTime"`
	PositiveFeedback     int     `json:"positiveFeedback"`
	Badges               []struct {
		ID string `json:"id"`
	} `json:"badges"`
}

func (a *Adapter) load(ctx context.Context, url string) (*nextData, error) {
	body, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	script := doc.Find(nextDataSelector).First()
	if script.Length() == 0 {
		return nil, fmt.Errorf("embedded page data not found")
	}
	var data nextData
	if err := json.Unmarshal([]byte(script.Text()), &data); err != nil {
		return nil, fmt.Errorf("decode embedded page data: %w", err)
	}
	return &data, nil
}

func (a *Adapter) FetchProduct(ctx context.Context, id string) (models.Product, error) {
	data, err := a.load(ctx, a.ProductURL(id))
	if err != nil {
		return models.Product{}, err
	}
	p := data.Props.PageProps.InitialData.Data.Product
	if p == nil {
		return models.Product{}, fmt.Errorf("product data missing")
	}
	if p.PriceInfo.CurrentPrice == nil {
		return models.Product{}, fmt.Errorf("current price missing")
	}

	product := models.Product{
		IdentifierCode:  p.USItemID,
		Name:            parser.NormalizeText(p.Name),
		FinalPrice:      p.PriceInfo.CurrentPrice.Price,
		InventoryStatus: p.AvailabilityStatus,
	}
	if product.IdentifierCode == "" {
		product.IdentifierCode = id
	}
	product.BasePrice = product.FinalPrice
	if was := p.PriceInfo.WasPrice; was != nil && was.Price > 0 {
		product.BasePrice = was.Price
	}

	if err := parser.ValidateProduct(&product); err != nil {
		return models.Product{}, err
	}
	if err := parser.CheckPriceOrder(product); err != nil {
		a.logger.Warn("price order anomaly", slog.String("identifier", id), slog.Any("error", err))
	}
	return product, nil
}

func (a *Adapter) Reviews(ctx context.Context, id string) (adapter.ReviewPager, error) {
	return &reviewPager{adapter: a, link: a.ReviewsURL(id)}, nil
}

type reviewPager struct {
	adapter *Adapter
	link    string
	hasNext bool
}

func (p *reviewPager) FetchReviewPage(ctx context.Context, n int) ([]adapter.RawReview, error) {
	p.hasNext = false

	data, err := p.adapter.load(ctx, p.link+"&page="+strconv.Itoa(n))
	if err != nil {
		return nil, err
	}
	reviews := data.Props.PageProps.InitialData.Data.Reviews
	if reviews == nil || len(reviews.CustomerReviews) == 0 {
		return nil, adapter.ErrEmptyPage
	}

	raw := make([]adapter.RawReview, 0, len(reviews.CustomerReviews))
	for _, r := range reviews.CustomerReviews {
		raw = append(raw, rawReview(r))
	}
	p.hasNext = reviews.Pagination.Next != nil
	return raw, nil
}

func (p *reviewPager) HasNextPage(ctx context.Context) bool {
	return p.hasNext
}

// rawReview is one undecoded entry of customerReviews.
type rawReview json.RawMessage

// Review implements adapter.RawReview.
func (r rawReview) Review() (models.Review, error) {
	var decoded customerReview
	if err := json.Unmarshal(r, &decoded); err != nil {
		return models.Review{}, fmt.Errorf("decode review: %w", err)
	}
	return decoded.Review()
}

func (r customerReview) Review() (models.Review, error) {
	if strings.TrimSpace(r.UserNickname) == "" {
		return models.Review{}, fmt.Errorf("review missing author")
	}

	review := models.Review{
		Author:      parser.NormalizeText(r.UserNickname),
		Content:     parser.NormalizeText(r.ReviewText),
		Title:       parser.NormalizeText(r.ReviewTitle),
		Rating:      r.Rating,
		ReviewDate:  r.ReviewSubmissionTime,
		HelpfulText: parser.HelpfulFromCount(r.PositiveFeedback),
	}
	for _, badge := range r.Badges {
		if badge.ID == verifiedBadgeID {
			review.VerifiedPurchase = true
			break
		}
	}

	if err := parser.ValidateReview(&review); err != nil {
		return models.Review{}, err
	}
	return review, nil
}
