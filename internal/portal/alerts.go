package portal

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

var successWords = []string{"sucesso", "confirmado"}

// ExtractAlerts returns the visible alert and error texts of a page, in
// document order and without duplicates. Success banners are not included.
func ExtractAlerts(html string, sel Selectors) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "portal: parse page")
	}

	seen := make(map[string]bool)
	var out []string
	add := func(text string) {
		text = collapseSpace(text)
		if text == "" || seen[text] || isSuccessText(text) {
			return
		}
		seen[text] = true
		out = append(out, text)
	}

	doc.Find(sel.Alert).Each(func(_ int, s *goquery.Selection) {
		desc := s.Find(sel.AlertDescription)
		if desc.Length() > 0 {
			desc.Each(func(_ int, d *goquery.Selection) { add(d.Text()) })
			return
		}
		add(s.Text())
	})
	doc.Find(sel.ErrorContainers).Each(func(_ int, s *goquery.Selection) {
		// Containers holding an alert were handled above.
		if s.Find(sel.Alert).Length() > 0 || s.Closest(sel.Alert).Length() > 0 {
			return
		}
		add(s.Text())
	})
	return out, nil
}

// ExtractSuccess returns the success banner texts present on a page.
func ExtractSuccess(html string, sel Selectors) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, eris.Wrap(err, "portal: parse page")
	}
	var out []string
	doc.Find(sel.Alert + ", .alert-success, .mensagem-sucesso").Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if isSuccessText(text) {
			out = append(out, text)
		}
	})
	return out, nil
}

// HasElement reports whether the page contains a node matching selector.
func HasElement(html, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func isSuccessText(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range successWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
