package reference

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DecodeHTML reads a design document exported as HTML. Sections are located
// by id or class:
//
//	<meta name="service" content="books">   or <body data-service="books">
//	<h1>Title</h1>                           or <title>
//	<pre class="class-diagram">, <pre class="sequence-diagram">
//	<table id="api-entries">  rows of td: class, method, returns, parameters
//	<ol id="sequence-logic">, <ul id="exposed-apis">, <ul id="external-apis">
func DecodeHTML(data []byte) (Content, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Content{}, fmt.Errorf("parse html: %w", err)
	}

	var c Content
	if v, ok := doc.Find(`meta[name="service"]`).First().Attr("content"); ok {
		c.Service = strings.TrimSpace(v)
	} else if v, ok := doc.Find("[data-service]").First().Attr("data-service"); ok {
		c.Service = strings.TrimSpace(v)
	}

	c.Title = cleanText(doc.Find("h1").First())
	if c.Title == "" {
		c.Title = cleanText(doc.Find("title").First())
	}

	c.ClassDiagram = strings.TrimSpace(doc.Find("#class-diagram, .class-diagram").First().Text())
	c.SequenceDiagram = strings.TrimSpace(doc.Find("#sequence-diagram, .sequence-diagram").First().Text())

	doc.Find("#api-entries tr, .api-entries tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() == 0 {
			return
		}
		var vals []string
		cells.Each(func(_ int, td *goquery.Selection) {
			vals = append(vals, cleanText(td))
		})
		c.APIEntries = append(c.APIEntries, entryFromCells(vals))
	})

	c.SequenceSteps = listTexts(doc, "#sequence-logic li, .sequence-logic li")
	c.ExposedAPIs = listTexts(doc, "#exposed-apis li, .exposed-apis li")
	c.ExternalAPIs = listTexts(doc, "#external-apis li, .external-apis li")
	return c, nil
}

func listTexts(doc *goquery.Document, selector string) []string {
	var out []string
	doc.Find(selector).Each(func(_ int, li *goquery.Selection) {
		if t := cleanText(li); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func cleanText(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}
