package sitemap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const maxDecompressedSize = 50 * 1024 * 1024

// docKind identifies the shape of a fetched sitemap body.
type docKind int

const (
	kindURLSet docKind = iota
	kindIndex
	kindText
	kindHTML
)

// document is the union of the sitemap index and urlset schemas. Field tags
// carry no namespace so both plain and namespaced sitemaps decode.
type document struct {
	XMLName  xml.Name
	Sitemaps []entry `xml:"sitemap"`
	URLs     []entry `xml:"url"`
}

type entry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
	News    struct {
		PublicationDate string `xml:"publication_date"`
	} `xml:"news"`
}

// parsed is a decoded sitemap body: locations plus optional lastmod values.
type parsed struct {
	kind    docKind
	entries []entry
}

// gunzip decompresses body when it carries the gzip magic. Bodies served as
// application/gzip without the magic were already decoded by the transport.
func gunzip(body []byte) ([]byte, error) {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, maxDecompressedSize))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// parse decodes a sitemap body. XML is tried first; text/plain bodies are read
// one URL per line and HTML pages fall back to their anchors.
func parse(body []byte, contentType string) (parsed, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return parsed{}, fmt.Errorf("empty sitemap body")
	}
	if strings.Contains(strings.ToLower(contentType), "text/plain") || trimmed[0] != '<' {
		return parsed{kind: kindText, entries: parseText(trimmed)}, nil
	}

	var doc document
	dec := xml.NewDecoder(bytes.NewReader(trimmed))
	dec.CharsetReader = charset.NewReaderLabel
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	xmlErr := dec.Decode(&doc)
	if xmlErr == nil {
		switch strings.ToLower(doc.XMLName.Local) {
		case "sitemapindex":
			return parsed{kind: kindIndex, entries: doc.Sitemaps}, nil
		case "urlset":
			return parsed{kind: kindURLSet, entries: doc.URLs}, nil
		}
	}

	if !looksLikeHTML(trimmed) {
		if xmlErr != nil {
			return parsed{}, fmt.Errorf("parse sitemap xml: %w", xmlErr)
		}
		return parsed{}, fmt.Errorf("unexpected sitemap root <%s>", doc.XMLName.Local)
	}
	entries, err := parseHTML(trimmed)
	if err != nil {
		return parsed{}, err
	}
	return parsed{kind: kindHTML, entries: entries}, nil
}

func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 512 {
		head = head[:512]
	}
	lowered := bytes.ToLower(head)
	return bytes.Contains(lowered, []byte("<html")) || bytes.Contains(lowered, []byte("<!doctype html"))
}

func parseText(body []byte) []entry {
	var entries []entry
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, entry{Loc: line})
	}
	return entries
}

func parseHTML(body []byte) ([]entry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap html: %w", err)
	}
	var entries []entry
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href := strings.TrimSpace(s.AttrOr("href", "")); href != "" {
			entries = append(entries, entry{Loc: href})
		}
	})
	return entries, nil
}

var lastModLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseLastMod reads W3C datetime values. Unparseable values yield nil.
func parseLastMod(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	return nil
}

// looksLikeChildSitemap detects sitemap files listed inside a urlset, which
// some publishers use instead of a proper sitemap index.
func looksLikeChildSitemap(parentHost string, candidate *url.URL) bool {
	host := strings.ToLower(candidate.Hostname())
	if parentHost != "" && host != "" && parentHost != host {
		return false
	}
	p := strings.ToLower(candidate.Path)
	if strings.HasPrefix(p, "/sitemaps/") || strings.HasPrefix(p, "/sitemap/") {
		return true
	}
	name := path.Base(p)
	if !strings.Contains(name, "sitemap") {
		return false
	}
	return strings.HasSuffix(name, ".xml") || strings.HasSuffix(name, ".xml.gz") || strings.HasSuffix(name, ".txt")
}
