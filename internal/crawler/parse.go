package crawler

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	listingRecordSelector = "div.releases-main a"
	nextPageSelector      = "span.num_right"
)

type listingRecord struct {
	Title string
	Image string
	URL   string
}

// parseListing extracts item records from a listing page body. Records lacking
// a link or title are dropped; hrefs and image sources are resolved against pageURL.
func parseListing(body []byte, pageURL *url.URL) ([]listingRecord, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("parse listing html: %w", err)
	}

	var records []listingRecord
	doc.Find(listingRecordSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		title := strings.TrimSpace(sel.Find("h2").First().Text())
		if title == "" {
			return
		}
		link, err := resolve(pageURL, href)
		if err != nil {
			return
		}
		image, _ := sel.Find("img").First().Attr("src")
		if image != "" {
			if resolved, err := resolve(pageURL, image); err == nil {
				image = resolved
			}
		}
		records = append(records, listingRecord{Title: title, Image: image, URL: link})
	})

	hasNext := doc.Find(nextPageSelector).Length() > 0
	return records, hasNext, nil
}

func resolve(base *url.URL, ref string) (string, error) {
	u, err := base.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	u.Fragment = ""
	return u.String(), nil
}
