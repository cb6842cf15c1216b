package extract

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-news-crawler/internal/crawler"
)

var imageAttributes = []string{
	"src", "data-src", "data-original", "data-lazy-src",
	"data-medium-file", "data-large-file", "data-fullsrc", "data-highres",
}

var imagePlaceholderKeywords = []string{
	"logo", "placeholder", "default", "banner", "ads", "adserver", "icon",
	"sprite", "nophoto", "no-photo", "blank", "spacer", "tracking", "pixel",
}

var allowedImageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".webp": {}, ".gif": {},
	".bmp": {}, ".tif": {}, ".tiff": {}, ".avif": {},
}

// collectMedia lists images and videos inside the pruned container, in
// document order, each URL at most once. The og:image lead is placed first
// unless the site only wants inline media.
func collectMedia(container *goquery.Selection, pageURL, leadImage string, rules crawler.ExtractionRules) []crawler.MediaReference {
	var media []crawler.MediaReference
	seen := make(map[string]struct{})
	add := func(ref crawler.MediaReference) {
		if _, dup := seen[ref.URL]; dup {
			return
		}
		seen[ref.URL] = struct{}{}
		media = append(media, ref)
	}

	if !rules.InlineMediaOnly && leadImage != "" {
		if u, ok := crawler.Normalize(leadImage, pageURL); ok && !skipByName(u, rules.MediaExcludePatterns) {
			add(crawler.MediaReference{URL: u, Kind: crawler.MediaImage})
		}
	}

	container.Find("img, video, source").Each(func(_ int, s *goquery.Selection) {
		switch goquery.NodeName(s) {
		case "img":
			if u := pickImage(s, pageURL, rules); u != "" {
				add(crawler.MediaReference{URL: u, Kind: crawler.MediaImage, Caption: caption(s)})
			}
		case "video":
			if u, ok := crawler.Normalize(s.AttrOr("src", ""), pageURL); ok {
				add(crawler.MediaReference{URL: u, Kind: crawler.MediaVideo, Caption: caption(s)})
			}
		case "source":
			parent := goquery.NodeName(s.Parent())
			if parent == "video" || parent == "audio" {
				if u, ok := crawler.Normalize(s.AttrOr("src", ""), pageURL); ok {
					add(crawler.MediaReference{URL: u, Kind: crawler.MediaVideo, Caption: caption(s.Parent())})
				}
				return
			}
			if u := pickImage(s, pageURL, rules); u != "" {
				add(crawler.MediaReference{URL: u, Kind: crawler.MediaImage, Caption: caption(s)})
			}
		}
	})
	return media
}

// pickImage returns the first acceptable candidate URL of an img or picture source.
func pickImage(s *goquery.Selection, pageURL string, rules crawler.ExtractionRules) string {
	if tooSmall(s, rules.MinImageDimension) {
		return ""
	}
	var candidates []string
	for _, attr := range imageAttributes {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			candidates = append(candidates, v)
		}
	}
	for _, attr := range []string{"srcset", "data-srcset"} {
		if first := firstSrcset(s.AttrOr(attr, "")); first != "" {
			candidates = append(candidates, first)
		}
	}
	for _, raw := range candidates {
		u, ok := crawler.Normalize(raw, pageURL)
		if !ok {
			continue
		}
		if skipByName(u, rules.MediaExcludePatterns) || !allowedExtension(u, rules.AllowExtensionlessImages) {
			continue
		}
		return u
	}
	return ""
}

func firstSrcset(value string) string {
	for _, part := range strings.Split(value, ",") {
		if fields := strings.Fields(part); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

// tooSmall reports whether a declared width or height is under the minimum.
// Missing or non-numeric dimensions never disqualify an image.
func tooSmall(s *goquery.Selection, minDimension int) bool {
	if minDimension <= 0 {
		return false
	}
	for _, attr := range []string{"width", "height"} {
		raw := strings.TrimSuffix(strings.TrimSpace(s.AttrOr(attr, "")), "px")
		if n, err := strconv.Atoi(raw); err == nil && n < minDimension {
			return true
		}
	}
	return false
}

// skipByName drops placeholders, tracking pixels and site-excluded patterns.
// Exclusion patterns are case-insensitive substrings of the URL.
func skipByName(rawURL string, patterns []string) bool {
	lowered := strings.ToLower(rawURL)
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(lowered, p) {
			return true
		}
	}
	u, err := url.Parse(lowered)
	if err != nil {
		return true
	}
	name := path.Base(u.Path)
	if name == "grey.gif" {
		return true
	}
	for _, keyword := range imagePlaceholderKeywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

func allowedExtension(rawURL string, allowExtensionless bool) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" {
		return allowExtensionless
	}
	_, ok := allowedImageExtensions[ext]
	return ok
}

func caption(s *goquery.Selection) string {
	if figure := s.Closest("figure"); figure.Length() > 0 {
		if text := collapseSpace(figure.Find("figcaption").First().Text()); text != "" {
			return text
		}
	}
	return collapseSpace(s.AttrOr("alt", ""))
}
