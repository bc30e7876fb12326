package engine

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/entrhq/taskpilot/pkg/browser"
	"github.com/entrhq/taskpilot/pkg/logging"
	"github.com/entrhq/taskpilot/pkg/task"
	"github.com/entrhq/taskpilot/pkg/types"
)

// topOffersPerPlatform caps how many offers each platform contributes
// to the results payload.
const topOffersPerPlatform = 3

// platform describes one shopping site the comparer can scrape.
type platform struct {
	key       string
	name      string
	searchURL string
	extract   func(doc *goquery.Document) []types.PriceItem
}

var platforms = []platform{
	{
		key:       "amazon",
		name:      "Amazon",
		searchURL: "https://www.amazon.in/s?k=%s",
		extract:   extractAmazon,
	},
	{
		key:       "flipkart",
		name:      "Flipkart",
		searchURL: "https://www.flipkart.com/search?q=%s",
		extract:   extractFlipkart,
	},
	{
		key:       "meesho",
		name:      "Meesho",
		searchURL: "https://www.meesho.com/search?q=%s",
		extract:   extractMeesho,
	},
}

// ControllerFactory launches a fresh throwaway browser controller. The
// comparer uses one per platform so the scrapes can run in parallel.
type ControllerFactory func() (browser.Controller, error)

// PriceComparer runs the price-comparison task mode: a parallel scrape
// across shopping platforms, emitting one PRICE_RESULTS payload and a
// frame per platform.
type PriceComparer struct {
	launch ControllerFactory
	emit   Emitter
	logger *logging.Logger
}

// NewPriceComparer creates a comparer that launches controllers through
// the given factory.
func NewPriceComparer(launch ControllerFactory, emit Emitter) *PriceComparer {
	logger, _ := logging.NewLogger("pricecompare")
	return &PriceComparer{launch: launch, emit: emit, logger: logger}
}

// IsPriceCompareGoal reports whether the goal asks for a price
// comparison rather than a regular plan/execute run.
func IsPriceCompareGoal(goal string) bool {
	lower := strings.ToLower(goal)
	hasPriceSignal := strings.Contains(lower, "under") || strings.Contains(lower, "below")
	hasCompareSignal := strings.Contains(lower, "compare")
	hasPlatformSignal := strings.Contains(lower, "amazon") ||
		strings.Contains(lower, "flipkart") ||
		strings.Contains(lower, "meesho")
	return (hasPriceSignal && hasPlatformSignal) || hasCompareSignal
}

var maxPriceRe = regexp.MustCompile(`(?i)under\s+([\d,]+)`)

// parsePriceGoal splits a goal into the product query and an optional
// price ceiling.
func parsePriceGoal(goal string) (string, *float64) {
	var maxPrice *float64
	if m := maxPriceRe.FindStringSubmatch(goal); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64); err == nil {
			maxPrice = &v
		}
	}

	product := maxPriceRe.ReplaceAllString(goal, "")
	for _, noise := range []string{"on amazon", "on flipkart", "on meesho", "price", " on "} {
		product = strings.ReplaceAll(strings.ToLower(product), noise, " ")
	}
	product = strings.Join(strings.Fields(product), " ")
	return product, maxPrice
}

// Run scrapes all platforms in parallel and emits the results payload.
// Any platform failure fails the whole comparison.
func (pc *PriceComparer) Run(ctx context.Context, goal string) error {
	product, maxPrice := parsePriceGoal(goal)
	if maxPrice != nil {
		pc.emit(types.NewLogEvent("info", fmt.Sprintf("price compare: %q under %.0f", product, *maxPrice)))
	} else {
		pc.emit(types.NewLogEvent("info", fmt.Sprintf("price compare: %q, no limit", product)))
	}

	results := make([]types.PlatformResult, len(platforms))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range platforms {
		g.Go(func() error {
			result, err := pc.scrape(ctx, p, product, maxPrice)
			if err != nil {
				return fmt.Errorf("%s: %w", p.name, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pc.emit(types.NewPriceResultsEvent(product, maxPrice, results))
	return nil
}

// scrape loads one platform's search results in a throwaway browser and
// extracts the top offers.
func (pc *PriceComparer) scrape(ctx context.Context, p platform, product string, maxPrice *float64) (types.PlatformResult, error) {
	controller, err := pc.launch()
	if err != nil {
		return types.PlatformResult{}, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer controller.Close()

	url := fmt.Sprintf(p.searchURL, encodeQuery(product))
	steps := []*task.Step{
		{Action: task.KindNavigate, Params: task.Params{URL: url}},
		{Action: task.KindWait, Params: task.Params{Ms: 1500}},
	}
	for _, step := range steps {
		if err := controller.Perform(ctx, step); err != nil {
			return types.PlatformResult{}, err
		}
	}

	html, err := controller.Content()
	if err != nil {
		return types.PlatformResult{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return types.PlatformResult{}, fmt.Errorf("failed to parse results page: %w", err)
	}

	items := p.extract(doc)
	if maxPrice != nil {
		filtered := items[:0]
		for _, item := range items {
			if item.Price == nil || *item.Price <= *maxPrice {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if len(items) > topOffersPerPlatform {
		items = items[:topOffersPerPlatform]
	}
	pc.logger.Infof("%s: %d offers kept for %q", p.name, len(items), product)

	// One frame per platform so the observer sees what was scraped.
	if frame, err := controller.Screenshot(ctx); err == nil && frame != "" {
		pc.emit(types.NewBrowserFrameEvent(frame, p.name))
	}

	return types.PlatformResult{Platform: p.name, Items: items}, nil
}

var priceRe = regexp.MustCompile(`(\d+[\d,.]*)`)

func moneyToFloat(text string) *float64 {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return nil
	}
	return &v
}

func encodeQuery(text string) string {
	replacer := strings.NewReplacer(" ", "+", `"`, "", "'", "", "#", "", "&", "and")
	return replacer.Replace(text)
}

func extractAmazon(doc *goquery.Document) []types.PriceItem {
	var items []types.PriceItem
	doc.Find("div[data-component-type='s-search-result']").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := strings.TrimSpace(card.Find("h2 a span").First().Text())
		if title == "" {
			return true
		}
		href := card.Find("h2 a").First().AttrOr("href", "")
		if strings.HasPrefix(href, "/") {
			href = "https://www.amazon.in" + href
		}
		whole := card.Find("span.a-price-whole").First().Text()
		frac := card.Find("span.a-price-fraction").First().Text()
		items = append(items, types.PriceItem{
			Title: title,
			Price: moneyToFloat(whole + frac),
			URL:   href,
		})
		return len(items) < 10
	})
	return items
}

func extractFlipkart(doc *goquery.Document) []types.PriceItem {
	var items []types.PriceItem
	doc.Find("div[data-id]").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		var title, href string
		if link := card.Find("a[title]").First(); link.Length() > 0 {
			title = link.AttrOr("title", "")
			href = link.AttrOr("href", "")
		} else {
			title = strings.TrimSpace(card.Find("div._4rR01T").First().Text())
			href = card.Find("a").First().AttrOr("href", "")
		}
		if title == "" {
			return true
		}
		if strings.HasPrefix(href, "/") {
			href = "https://www.flipkart.com" + href
		}
		items = append(items, types.PriceItem{
			Title: title,
			Price: moneyToFloat(card.Find("div._30jeq3").First().Text()),
			URL:   href,
		})
		return len(items) < 10
	})
	return items
}

func extractMeesho(doc *goquery.Document) []types.PriceItem {
	var items []types.PriceItem
	doc.Find("a[href*='/product/']").EachWithBreak(func(_ int, card *goquery.Selection) bool {
		title := strings.TrimSpace(card.Find("p").First().Text())
		if title == "" {
			return true
		}
		href := card.AttrOr("href", "")
		if strings.HasPrefix(href, "/") {
			href = "https://www.meesho.com" + href
		}
		var priceText strings.Builder
		card.Find("span").Each(func(_ int, span *goquery.Selection) {
			priceText.WriteString(span.Text())
			priceText.WriteString(" ")
		})
		items = append(items, types.PriceItem{
			Title: title,
			Price: moneyToFloat(priceText.String()),
			URL:   href,
		})
		return len(items) < 10
	})
	return items
}
