package extract

import "regexp"

// Ebay reads eBay item pages (/itm/<number>).
func Ebay() *Rules {
	return &Rules{
		Site:              "ebay",
		IdentifierPattern: regexp.MustCompile(`/itm/(?:[^/?#]+/)?(\d+)`),
		TitleSelectors: []string{
			`h1[data-testid="vi-VR-cvipPrice-title"]`,
			`h1.x-item-title__mainTitle`,
			`h1`,
			`[role="heading"]`,
		},
		PriceSelectors: []string{
			`[data-testid="x-price-primary"]`,
			`.x-price-primary`,
			`.x-bin-price__content`,
			`#prcIsum`,
		},
		StockSelectors: []string{
			`#qtySubTxt span`,
			`.x-quantity__availability span`,
			`span`,
		},
	}
}

// Amazon reads Amazon product detail pages (/dp/<ASIN>).
func Amazon() *Rules {
	return &Rules{
		Site:              "amazon",
		IdentifierPattern: regexp.MustCompile(`/(?:dp|gp/product)/([A-Z0-9]{10})`),
		TitleSelectors: []string{
			`#productTitle`,
			`#title`,
			`h1`,
		},
		PriceSelectors: []string{
			`#corePrice_feature_div .a-offscreen`,
			`#corePriceDisplay_desktop_feature_div .a-offscreen`,
			`.a-price .a-offscreen`,
			`#priceblock_ourprice`,
			`#priceblock_dealprice`,
			`.a-price-whole`,
		},
		StockSelectors: []string{
			`#availability span`,
			`#availability`,
			`#outOfStock span`,
			`span`,
		},
	}
}
