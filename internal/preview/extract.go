package preview

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var priceRe = regexp.MustCompile(`([0-9][0-9\s]*(?:[.,][0-9]{1,2})?)`)

// parsePrice pulls the first number out of s, accepting spaces as thousand
// separators and a comma as the decimal mark.
func parsePrice(s string) decimal.NullDecimal {
	m := priceRe.FindString(s)
	if m == "" {
		return decimal.NullDecimal{}
	}
	m = strings.ReplaceAll(strings.Join(strings.Fields(m), ""), ",", ".")
	d, err := decimal.NewFromString(m)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}

type page struct {
	meta   map[string]string
	title  string
	jsonLD []string
}

// Extract reads an HTML document and returns what it says about the product.
// og:/twitter: meta tags win; JSON-LD Product data fills in when the page
// carries no meta at all, and <title> is the last resort for the title.
func Extract(r io.Reader) (*Metadata, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	p := &page{meta: make(map[string]string)}
	p.walk(doc)

	meta := &Metadata{
		Title:    p.first("og:title", "twitter:title"),
		ImageURL: p.first("og:image", "twitter:image"),
		Price:    parsePrice(p.first("product:price:amount", "og:price:amount", "price")),
		Currency: p.first("product:price:currency", "og:price:currency"),
	}
	if meta.Title == "" && meta.ImageURL == "" && !meta.Price.Valid && meta.Currency == "" {
		p.fromJSONLD(meta)
	}
	if meta.Title == "" {
		meta.Title = p.title
	}
	meta.Currency = strings.ToUpper(meta.Currency)
	return meta, nil
}

func (p *page) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.Meta:
			key := strings.ToLower(attr(n, "property"))
			if key == "" {
				key = strings.ToLower(attr(n, "name"))
			}
			if content := strings.TrimSpace(attr(n, "content")); key != "" && content != "" {
				if _, seen := p.meta[key]; !seen {
					p.meta[key] = content
				}
			}
		case atom.Title:
			if p.title == "" && n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				p.title = strings.TrimSpace(n.FirstChild.Data)
			}
		case atom.Script:
			if strings.EqualFold(attr(n, "type"), "application/ld+json") && n.FirstChild != nil {
				p.jsonLD = append(p.jsonLD, n.FirstChild.Data)
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		p.walk(c)
	}
}

func (p *page) first(keys ...string) string {
	for _, k := range keys {
		if v := p.meta[k]; v != "" {
			return v
		}
	}
	return ""
}

type ldEntry struct {
	Name   string          `json:"name"`
	Image  json.RawMessage `json:"image"`
	Offers json.RawMessage `json:"offers"`
}

type ldOffer struct {
	Price         any    `json:"price"`
	PriceCurrency string `json:"priceCurrency"`
}

func (p *page) fromJSONLD(meta *Metadata) {
	for _, raw := range p.jsonLD {
		var entries []ldEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			var single ldEntry
			if err := json.Unmarshal([]byte(raw), &single); err != nil {
				continue
			}
			entries = []ldEntry{single}
		}

		for _, e := range entries {
			title := strings.TrimSpace(e.Name)
			image := firstString(e.Image)
			var offer ldOffer
			if len(e.Offers) > 0 {
				_ = json.Unmarshal(e.Offers, &offer)
			}
			price := decimal.NullDecimal{}
			if offer.Price != nil {
				price = parsePrice(fmt.Sprint(offer.Price))
			}
			if title != "" || image != "" || price.Valid || offer.PriceCurrency != "" {
				meta.Title = title
				meta.ImageURL = image
				meta.Price = price
				meta.Currency = offer.PriceCurrency
				return
			}
		}
	}
}

// firstString decodes either "url" or ["url", ...].
func firstString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}
