// Package amazon is the session-bound adapter: every page is read through
// the single signed-in browsing context lent by the session manager.
package amazon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/challenge"
	"github.com/aluiziolira/reviewharvest/models"
	"github.com/aluiziolira/reviewharvest/parser"
	"github.com/aluiziolira/reviewharvest/session"
)

// Name is the source label used in output paths and metrics.
const Name = "amazon"

const defaultBaseURL = "https://www.amazon.com"

// ChallengeForm is the image-text challenge screen.
var ChallengeForm = challenge.Form{
	FormSelector:   `form[action="/errors/validateCaptcha"]`,
	ImageSelector:  `form[action="/errors/validateCaptcha"] img`,
	InputSelector:  "#captchacharacters",
	SubmitSelector: `form[action="/errors/validateCaptcha"] button[type="submit"]`,
}

// SessionFlow returns the sign-in, region and sign-out selectors rooted at
// baseURL, or at www.amazon.com when empty.
func SessionFlow(baseURL string) session.Flow {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return session.Flow{
		LoginURL:         baseURL + "/account/",
		EmailSelector:    "#ap_email",
		ContinueSelector: "#continue",
		PasswordSelector: "#ap_password",
		SubmitSelector:   "#signInSubmit",
		LandmarkSelector: "#nav-link-accountList",

		HomeURL:         baseURL,
		AccountSelector: "#nav-link-accountList",
		SignOutSelector: "#nav-item-signout",

		RegionPopoverSelector: "#nav-global-location-popover-link",
		RegionInputSelector:   "#GLUXZipUpdateInput",
		RegionApplySelector:   "#GLUXZipUpdate",
		RegionConfirmSelector: `button[name="glowDoneButton"]`,
	}
}

const (
	titleSelector        = "#productTitle"
	basePriceSelector    = ".basisPrice .a-offscreen"
	priceWholeSelector   = ".priceToPay span.a-price-whole"
	priceFractionSel     = ".priceToPay span.a-price-fraction"
	availabilitySelector = "#availability"

	reviewSelector   = ".review"
	nextPageSelector = ".a-last"
	disabledClass    = "a-disabled"
)

// Options tunes the adapter's waits.
type Options struct {
	BaseURL        string
	ProductTimeout time.Duration
	ReviewTimeout  time.Duration
	ProbeTimeout   time.Duration
	Logger         *slog.Logger
}

// Adapter implements adapter.SessionAdapter.
type Adapter struct {
	opts    Options
	logger  *slog.Logger
	session *session.Handle
}

var _ adapter.SessionAdapter = (*Adapter)(nil)

// New builds an unbound adapter; bind it with WithSession before use.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.ProductTimeout <= 0 {
		opts.ProductTimeout = 180 * time.Second
	}
	if opts.ReviewTimeout <= 0 {
		opts.ReviewTimeout = 60 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{opts: opts, logger: logger.With(slog.String("source", Name))}
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) ProductURL(id string) string {
	return fmt.Sprintf("%s/dp/%s", a.opts.BaseURL, id)
}

func (a *Adapter) ReviewsURL(id string) string {
	return fmt.Sprintf("%s/product-reviews/%s/?reviewerType=all_reviews&sortBy=recent", a.opts.BaseURL, id)
}

// WithSession returns a copy of a bound to h.
func (a *Adapter) WithSession(h *session.Handle) adapter.Adapter {
	bound := *a
	bound.session = h
	return &bound
}

func (a *Adapter) page() (browser.Page, error) {
	if a.session == nil {
		return nil, errors.New("amazon adapter used without a session")
	}
	return a.session.Page(), nil
}

// challenge passes a mid-session challenge, if one is showing.
func (a *Adapter) challenge(ctx context.Context, landmark string) error {
	err := a.session.Challenge(ctx, landmark)
	if errors.Is(err, session.ErrChallengeUnresolved) {
		return adapter.ErrChallengeUnresolved
	}
	return err
}

func (a *Adapter) FetchProduct(ctx context.Context, id string) (models.Product, error) {
	page, err := a.page()
	if err != nil {
		return models.Product{}, err
	}
	if err := page.Navigate(ctx, a.ProductURL(id)); err != nil {
		return models.Product{}, err
	}
	if err := a.challenge(ctx, titleSelector); err != nil {
		return models.Product{}, err
	}
	if err := page.WaitVisible(ctx, titleSelector, a.opts.ProductTimeout); err != nil {
		return models.Product{}, fmt.Errorf("product title: %w", err)
	}

	product := models.Product{IdentifierCode: id}

	if product.Name, err = a.text(ctx, page, titleSelector); err != nil {
		return models.Product{}, err
	}
	if product.Name == "" {
		return models.Product{}, fmt.Errorf("product title is empty")
	}

	whole, err := a.text(ctx, page, priceWholeSelector)
	if err != nil {
		return models.Product{}, err
	}
	fraction, err := a.text(ctx, page, priceFractionSel)
	if err != nil {
		return models.Product{}, err
	}
	if product.FinalPrice, err = parser.JoinPrice(whole, fraction); err != nil {
		return models.Product{}, fmt.Errorf("final price: %w", err)
	}

	// No list price is shown when the item is not discounted.
	base, err := a.text(ctx, page, basePriceSelector)
	if err != nil {
		return models.Product{}, err
	}
	product.BasePrice = product.FinalPrice
	if base != "" {
		if product.BasePrice, err = parser.ParsePrice(base); err != nil {
			return models.Product{}, fmt.Errorf("base price: %w", err)
		}
	}

	if product.InventoryStatus, err = a.text(ctx, page, availabilitySelector); err != nil {
		return models.Product{}, err
	}

	if err := parser.ValidateProduct(&product); err != nil {
		return models.Product{}, err
	}
	if err := parser.CheckPriceOrder(product); err != nil {
		a.logger.Warn("price order anomaly", slog.String("identifier", id), slog.Any("error", err))
	}
	return product, nil
}

// text returns the normalized text of the first node matching sel, or ""
// when nothing matches.
func (a *Adapter) text(ctx context.Context, page browser.Page, sel string) (string, error) {
	fragments, err := page.OuterHTML(ctx, sel)
	if err != nil {
		return "", err
	}
	if len(fragments) == 0 {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragments[0]))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", sel, err)
	}
	return parser.NormalizeText(doc.Text()), nil
}

func (a *Adapter) Reviews(ctx context.Context, id string) (adapter.ReviewPager, error) {
	page, err := a.page()
	if err != nil {
		return nil, err
	}
	return &reviewPager{adapter: a, page: page, id: id}, nil
}

type reviewPager struct {
	adapter *Adapter
	page    browser.Page
	id      string
}

// pageURL addresses review page n directly. Navigating replaces the document,
// so the review wait below cannot match elements left over from page n-1.
func (p *reviewPager) pageURL(n int) string {
	url := p.adapter.ReviewsURL(p.id)
	if n == 1 {
		return url
	}
	return url + "&pageNumber=" + strconv.Itoa(n)
}

func (p *reviewPager) FetchReviewPage(ctx context.Context, n int) ([]adapter.RawReview, error) {
	if n < 1 {
		return nil, fmt.Errorf("invalid review page %d", n)
	}
	if err := p.page.Navigate(ctx, p.pageURL(n)); err != nil {
		return nil, err
	}

	// The landmark is empty: a product without reviews must not count as a failed challenge.
	if err := p.adapter.challenge(ctx, ""); err != nil {
		return nil, err
	}

	found, err := p.page.Exists(ctx, reviewSelector, p.adapter.opts.ReviewTimeout)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, adapter.ErrEmptyPage
	}

	fragments, err := p.page.OuterHTML(ctx, reviewSelector)
	if err != nil {
		return nil, err
	}
	if len(fragments) == 0 {
		return nil, adapter.ErrEmptyPage
	}
	raw := make([]adapter.RawReview, 0, len(fragments))
	for _, fragment := range fragments {
		raw = append(raw, rawReview(fragment))
	}
	return raw, nil
}

func (p *reviewPager) HasNextPage(ctx context.Context) bool {
	fragments, err := p.page.OuterHTML(ctx, nextPageSelector)
	if err != nil || len(fragments) == 0 {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragments[0]))
	if err != nil {
		return false
	}
	control := doc.Find(nextPageSelector).First()
	link := control.Find("a").First()
	if control.HasClass(disabledClass) || link.Length() == 0 || link.HasClass(disabledClass) {
		return false
	}
	return true
}

// rawReview is the outer HTML of one review element.
type rawReview string

func (r rawReview) Review() (models.Review, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(r)))
	if err != nil {
		return models.Review{}, err
	}

	required := func(sel string) (*goquery.Selection, error) {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			return nil, fmt.Errorf("review element missing %s", sel)
		}
		return s, nil
	}

	author, err := required(".a-profile-name")
	if err != nil {
		return models.Review{}, err
	}
	body, err := required(`[data-hook="review-body"]`)
	if err != nil {
		return models.Review{}, err
	}
	titleBlock, err := required(`[data-hook="review-title"]`)
	if err != nil {
		return models.Review{}, err
	}
	ratingText := titleBlock.Find(`i[data-hook="review-star-rating"] span.a-icon-alt`).First()
	if ratingText.Length() == 0 {
		// Some layouts render the stars outside the title block.
		ratingText = doc.Find(`[data-hook="review-star-rating"] span.a-icon-alt, [data-hook="cmps-review-star-rating"] span.a-icon-alt`).First()
	}
	if ratingText.Length() == 0 {
		return models.Review{}, fmt.Errorf("review element missing star rating")
	}
	date, err := required(`[data-hook="review-date"]`)
	if err != nil {
		return models.Review{}, err
	}

	rating, err := parser.ParseRating(ratingText.Text())
	if err != nil {
		return models.Review{}, err
	}

	review := models.Review{
		Author:      parser.NormalizeText(author.Text()),
		Content:     parser.NormalizeText(body.Text()),
		Title:       parser.NormalizeText(titleBlock.Find("span").Last().Text()),
		Rating:      rating,
		ReviewDate:  parser.NormalizeText(date.Text()),
		HelpfulText: parser.HelpfulOrDefault(doc.Find(`[data-hook="helpful-vote-statement"]`).First().Text()),
	}
	review.VerifiedPurchase = parser.NormalizeText(doc.Find(`[data-hook="avp-badge"]`).First().Text()) == "Verified Purchase"

	if err := parser.ValidateReview(&review); err != nil {
		return models.Review{}, err
	}
	return review, nil
}
