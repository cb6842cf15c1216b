package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

const (
	noiseSelectors = "script, style, noscript, iframe, form, nav, header, footer, aside, button"
	blockSelectors = "p, h2, h3, h4, h5, h6, li, blockquote, pre"
)

// genericContainers are tried, largest text first, when no site rule matched.
var genericContainers = []string{
	`[itemprop="articleBody"]`,
	"article",
	`section[itemtype*="Article"]`,
	`div[class*="article-body"]`,
	`section[class*="article-body"]`,
	`div[class*="entry"]`,
	`div[class*="content"], section[class*="content"]`,
}

// excludedSectionTokens mark boilerplate blocks by class, id or data-* role.
var excludedSectionTokens = []string{
	"ads", "advert", "banner", "sponsor", "relationship", "related", "relate",
	"tinlienquan", "innerarticle", "share", "social", "comment", "promo",
	"widget", "tags", "tagbox", "taglist", "keyword", "subscribe", "breadcrumb",
}

var markerAttributes = []string{"class", "id", "data-role", "data-component", "data-block", "data-type"}

// excludedPhrases drop paragraphs that are share prompts or ad labels.
var excludedPhrases = []string{
	"chia sẻ facebook",
	"theo dõi trên",
	"bình luận của bạn",
	"số người thích",
	"sponsored",
	"quảng cáo",
}

// findContainer picks the element holding the article body.
func findContainer(doc *goquery.Document, rules crawler.ExtractionRules) *goquery.Selection {
	for _, sel := range rules.ContainerSelectors {
		if strings.TrimSpace(sel) == "" {
			continue
		}
		if best := largest(doc.Find(sel), false); best != nil {
			return best
		}
	}
	if len(rules.ContainerKeywords) > 0 {
		if best := largest(keywordMatches(doc, rules.ContainerKeywords), true); best != nil {
			return best
		}
	}
	for _, sel := range genericContainers {
		if best := largest(doc.Find(sel), true); best != nil {
			return best
		}
	}
	for _, sel := range []string{"main", "body"} {
		if s := doc.Find(sel).First(); s.Length() > 0 && collapseSpace(s.Text()) != "" {
			return s
		}
	}
	return nil
}

// largest returns the candidate with the most text, ignoring candidates in
// boilerplate sections when skipExcluded is set.
func largest(candidates *goquery.Selection, skipExcluded bool) *goquery.Selection {
	var (
		best    *goquery.Selection
		bestLen int
	)
	candidates.Each(func(_ int, s *goquery.Selection) {
		if skipExcluded && inExcludedSection(s) {
			return
		}
		n := utf8.RuneCountInString(collapseSpace(s.Text()))
		if n > bestLen {
			best, bestLen = s, n
		}
	})
	return best
}

func keywordMatches(doc *goquery.Document, keywords []string) *goquery.Selection {
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lowered = append(lowered, k)
		}
	}
	return doc.Find("body *").Not(noiseSelectors).FilterFunction(func(_ int, s *goquery.Selection) bool {
		attrs := strings.ToLower(s.AttrOr("id", "") + " " + s.AttrOr("class", ""))
		if strings.TrimSpace(attrs) == "" {
			return false
		}
		for _, k := range lowered {
			if strings.Contains(attrs, k) {
				return true
			}
		}
		return false
	})
}

func hasExcludedMarker(s *goquery.Selection) bool {
	for _, attr := range markerAttributes {
		value, ok := s.Attr(attr)
		if !ok || value == "" {
			continue
		}
		lowered := strings.ToLower(value)
		if strings.Contains(lowered, "box-adv") {
			return true
		}
		for _, token := range tokenize(lowered) {
			for _, keyword := range excludedSectionTokens {
				if strings.HasPrefix(token, keyword) {
					return true
				}
			}
		}
	}
	return false
}

func inExcludedSection(s *goquery.Selection) bool {
	if hasExcludedMarker(s) {
		return true
	}
	excluded := false
	s.Parents().EachWithBreak(func(_ int, p *goquery.Selection) bool {
		excluded = hasExcludedMarker(p)
		return !excluded
	})
	return excluded
}

// tokenize splits an attribute value into lowercase alphanumeric runs.
func tokenize(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}

// prune removes noise, configured exclusions and boilerplate sections from the
// container's descendants. The container itself is kept.
func prune(container *goquery.Selection, excluded []string) {
	container.Find(noiseSelectors).Remove()
	for _, sel := range excluded {
		if strings.TrimSpace(sel) != "" {
			container.Find(sel).Remove()
		}
	}
	container.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return hasExcludedMarker(s)
	}).Remove()
}

// flattenBody joins paragraph-level blocks with blank lines. Blocks nested in
// another block are read through their parent. Containers without block
// markup fall back to their collapsed text.
func flattenBody(container *goquery.Selection) string {
	var (
		parts []string
		seen  = make(map[string]struct{})
	)
	container.Find(blockSelectors).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsFilteredUntilSelection(blockSelectors, container).Length() > 0 {
			return
		}
		text := collapseSpace(s.Text())
		if text == "" || containsExcludedPhrase(text) {
			return
		}
		if _, dup := seen[text]; dup {
			return
		}
		seen[text] = struct{}{}
		parts = append(parts, text)
	})
	if len(parts) == 0 {
		return collapseSpace(container.Text())
	}
	return strings.Join(parts, "\n\n")
}

func containsExcludedPhrase(text string) bool {
	lowered := strings.ToLower(text)
	for _, phrase := range excludedPhrases {
		if strings.Contains(lowered, phrase) {
			return true
		}
	}
	return false
}
