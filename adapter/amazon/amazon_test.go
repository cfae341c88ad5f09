package amazon

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aluiziolira/reviewharvest/adapter"
	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/browser/browsertest"
	"github.com/aluiziolira/reviewharvest/challenge"
	"github.com/aluiziolira/reviewharvest/config"
	"github.com/aluiziolira/reviewharvest/parser"
	"github.com/aluiziolira/reviewharvest/session"
)

const testBase = "https://amazon.example.test"

const fullReview = `<div class="review" id="R1">
  <span class="a-profile-name">Jane D.</span>
  <a data-hook="review-title" class="review-title">
    <i data-hook="review-star-rating"><span class="a-icon-alt">4.0 out of 5 stars</span></i>
    <span class="a-letter-space"></span>
    <span>Works as advertised</span>
  </a>
  <span data-hook="review-date">Reviewed in the United States on March 3, 2024</span>
  <span data-hook="avp-badge">Verified Purchase</span>
  <span data-hook="review-body"><span>Setup took  two minutes.</span></span>
  <span data-hook="helpful-vote-statement">12 people found this helpful</span>
</div>`

const bareReview = `<div class="review" id="R2">
  <span class="a-profile-name">Amazon Customer</span>
  <a data-hook="review-title">
    <i data-hook="review-star-rating"><span class="a-icon-alt">1.0 out of 5 stars</span></i>
    <span>Broke</span>
  </a>
  <span data-hook="review-date">Reviewed in the United States on May 9, 2024</span>
  <span data-hook="review-body">Stopped working after a week.</span>
</div>`

// openSession signs in against page and returns an adapter bound to it.
func openSession(t *testing.T, page *browsertest.Page) adapter.Adapter {
	t.Helper()
	flow := SessionFlow(testBase)
	page.Set(flow.EmailSelector, true)
	page.Set(flow.LandmarkSelector, true)

	resolver := challenge.NewResolver(
		challenge.Config{Form: ChallengeForm, MaxAttempts: 1},
		challenge.DecoderFunc(func(ctx context.Context, image []byte) (string, error) { return "WRONG", nil }),
		challenge.ImageFetcherFunc(func(ctx context.Context, src string) ([]byte, error) { return []byte("img"), nil }),
	)
	m := session.NewManager(session.Options{
		Flow:        flow,
		Credentials: config.Credentials{Email: "buyer@example.test", Password: "secret"},
		Launcher:    func(ctx context.Context) (browser.Page, error) { return page, nil },
		Resolver:    resolver,
	})
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(func() { m.Close(h) })

	return New(Options{BaseURL: testBase}).WithSession(h)
}

func productPage(page *browsertest.Page) {
	page.Set(titleSelector, true)
	page.Fragments[titleSelector] = []string{`<span id="productTitle">  Echo Dot (5th Gen)  </span>`}
	page.Fragments[priceWholeSelector] = []string{`<span class="a-price-whole">49<span class="a-price-decimal">.</span></span>`}
	page.Fragments[priceFractionSel] = []string{`<span class="a-price-fraction">99</span>`}
	page.Fragments[basePriceSelector] = []string{`<span class="a-offscreen">$59.99</span>`}
	page.Fragments[availabilitySelector] = []string{`<div id="availability"><span> In Stock </span></div>`}
}

func TestFetchProduct(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)
	productPage(page)

	product, err := src.FetchProduct(context.Background(), "B09B8V1LZ3")
	if err != nil {
		t.Fatalf("fetch product: %v", err)
	}
	if product.IdentifierCode != "B09B8V1LZ3" || product.Name != "Echo Dot (5th Gen)" {
		t.Fatalf("unexpected product: %+v", product)
	}
	if product.BasePrice != 59.99 || product.FinalPrice != 49.99 {
		t.Fatalf("prices = %v / %v, want 59.99 / 49.99", product.BasePrice, product.FinalPrice)
	}
	if product.InventoryStatus != "In Stock" {
		t.Fatalf("inventory = %q", product.InventoryStatus)
	}
	if page.CountCalls("navigate "+testBase+"/dp/B09B8V1LZ3") != 1 {
		t.Fatalf("product page not visited: %v", page.Calls())
	}
}

func TestFetchProductWithoutListPrice(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)
	productPage(page)
	delete(page.Fragments, basePriceSelector)

	product, err := src.FetchProduct(context.Background(), "B0C1")
	if err != nil {
		t.Fatalf("fetch product: %v", err)
	}
	if product.BasePrice != product.FinalPrice {
		t.Fatalf("base price %v should fall back to final price %v", product.BasePrice, product.FinalPrice)
	}
}

func TestFetchProductMissingTitle(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)

	if _, err := src.FetchProduct(context.Background(), "B0MISSING"); !errors.Is(err, browser.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchProductUnresolvedChallenge(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)
	page.Set(ChallengeForm.FormSelector, true)
	page.Attrs[ChallengeForm.ImageSelector+"@src"] = "https://images.example.test/c.jpg"

	if _, err := src.FetchProduct(context.Background(), "B0C1"); !errors.Is(err, adapter.ErrChallengeUnresolved) {
		t.Fatalf("expected ErrChallengeUnresolved, got %v", err)
	}
}

func TestUnboundAdapterFails(t *testing.T) {
	a := New(Options{})
	if _, err := a.FetchProduct(context.Background(), "B0C1"); err == nil {
		t.Fatalf("expected error without a session")
	}
	if _, err := a.Reviews(context.Background(), "B0C1"); err == nil {
		t.Fatalf("expected error without a session")
	}
}

func TestReviewPages(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)
	page.Set(reviewSelector, true)
	page.Fragments[reviewSelector] = []string{fullReview, bareReview}
	page.Fragments[nextPageSelector] = []string{`<li class="a-last"><a href="/product-reviews/B0C1/?pageNumber=2">Next page</a></li>`}

	pager, err := src.Reviews(context.Background(), "B0C1")
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}

	raw, err := pager.FetchReviewPage(context.Background(), 1)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("page 1 reviews = %d, want 2", len(raw))
	}
	if page.CountCalls("navigate "+src.ReviewsURL("B0C1")) != 1 {
		t.Fatalf("reviews url not visited: %v", page.Calls())
	}
	if !pager.HasNextPage(context.Background()) {
		t.Fatalf("expected a next page")
	}

	if _, err := pager.FetchReviewPage(context.Background(), 2); err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if page.CountCalls("navigate "+src.ReviewsURL("B0C1")+"&pageNumber=2") != 1 {
		t.Fatalf("page 2 not visited by url: %v", page.Calls())
	}
	if page.CountCalls("click ") != 0 {
		t.Fatalf("paging should not click: %v", page.Calls())
	}

	if _, err := pager.FetchReviewPage(context.Background(), 0); err == nil {
		t.Fatalf("expected error for page 0")
	}
}

func TestReviewPageReadsNewDocument(t *testing.T) {
	const secondPageReview = `<div class="review" id="R3">
  <span class="a-profile-name">Sam K.</span>
  <a data-hook="review-title">
    <i data-hook="review-star-rating"><span class="a-icon-alt">2.0 out of 5 stars</span></i>
    <span>Meh</span>
  </a>
  <span data-hook="review-date">Reviewed in the United States on June 1, 2024</span>
  <span data-hook="review-body">Louder than expected.</span>
</div>`

	page := browsertest.New()
	src := openSession(t, page)
	page.OnNavigate = func(p *browsertest.Page, url string) error {
		p.Set(reviewSelector, true)
		if strings.HasSuffix(url, "&pageNumber=2") {
			p.Fragments[reviewSelector] = []string{secondPageReview}
		} else {
			p.Fragments[reviewSelector] = []string{fullReview, bareReview}
		}
		return nil
	}

	pager, err := src.Reviews(context.Background(), "B0C1")
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if _, err := pager.FetchReviewPage(context.Background(), 1); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	raw, err := pager.FetchReviewPage(context.Background(), 2)
	if err != nil {
		t.Fatalf("page 2: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("page 2 reviews = %d, want 1", len(raw))
	}
	review, err := raw[0].Review()
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if review.Author != "Sam K." {
		t.Fatalf("page 2 returned %q, want the page 2 review", review.Author)
	}
}

func TestReviewPageEmpty(t *testing.T) {
	page := browsertest.New()
	src := openSession(t, page)

	pager, err := src.Reviews(context.Background(), "B0C1")
	if err != nil {
		t.Fatalf("reviews: %v", err)
	}
	if _, err := pager.FetchReviewPage(context.Background(), 1); !errors.Is(err, adapter.ErrEmptyPage) {
		t.Fatalf("expected ErrEmptyPage, got %v", err)
	}
	if pager.HasNextPage(context.Background()) {
		t.Fatalf("no next control means no next page")
	}
}

func TestHasNextPageDisabled(t *testing.T) {
	tests := []struct {
		name     string
		fragment string
		want     bool
	}{
		{name: "enabled", fragment: `<li class="a-last"><a href="?pageNumber=3">Next</a></li>`, want: true},
		{name: "disabled item", fragment: `<li class="a-disabled a-last">Next</li>`, want: false},
		{name: "disabled link", fragment: `<li class="a-last"><a class="a-disabled">Next</a></li>`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := browsertest.New()
			src := openSession(t, page)
			page.Fragments[nextPageSelector] = []string{tt.fragment}

			pager, err := src.Reviews(context.Background(), "B0C1")
			if err != nil {
				t.Fatalf("reviews: %v", err)
			}
			if got := pager.HasNextPage(context.Background()); got != tt.want {
				t.Fatalf("HasNextPage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRawReviewParsing(t *testing.T) {
	review, err := rawReview(fullReview).Review()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if review.Author != "Jane D." || review.Title != "Works as advertised" {
		t.Fatalf("unexpected review: %+v", review)
	}
	if review.Rating != 4.0 {
		t.Fatalf("rating = %v, want 4", review.Rating)
	}
	if review.Content != "Setup took two minutes." {
		t.Fatalf("content = %q", review.Content)
	}
	if !review.VerifiedPurchase || review.HelpfulText != "12 people found this helpful" {
		t.Fatalf("badge/helpful wrong: %+v", review)
	}

	bare, err := rawReview(bareReview).Review()
	if err != nil {
		t.Fatalf("parse bare: %v", err)
	}
	if bare.VerifiedPurchase {
		t.Fatalf("missing badge must default to false")
	}
	if bare.HelpfulText != parser.DefaultHelpfulText {
		t.Fatalf("helpful = %q, want default", bare.HelpfulText)
	}
}

func TestRawReviewRejects(t *testing.T) {
	tests := []struct {
		name string
		html string
	}{
		{name: "no author", html: `<div class="review"><a data-hook="review-title"><i data-hook="review-star-rating"><span class="a-icon-alt">4.0 out of 5 stars</span></i><span>t</span></a><span data-hook="review-date">d</span><span data-hook="review-body">b</span></div>`},
		{name: "no rating", html: `<div class="review"><span class="a-profile-name">A</span><a data-hook="review-title"><span>t</span></a><span data-hook="review-date">d</span><span data-hook="review-body">b</span></div>`},
		{name: "rating out of range", html: `<div class="review"><span class="a-profile-name">A</span><a data-hook="review-title"><i data-hook="review-star-rating"><span class="a-icon-alt">7.0 out of 5 stars</span></i><span>t</span></a><span data-hook="review-date">d</span><span data-hook="review-body">b</span></div>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := rawReview(tt.html).Review(); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}
