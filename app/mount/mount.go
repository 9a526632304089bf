// Package mount renders tracker widgets into static job-board pages. Every element carrying
// a data-tracker-job attribute with a JSON job descriptor gets its children replaced by the
// widget for that job.
package mount

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	log "github.com/go-pkgz/lgr"
	"golang.org/x/net/html"

	"github.com/umputun/jobtrack/app/tracker"
)

// Attr is the attribute marking a widget mount point
const Attr = "data-tracker-job"

// WidgetRenderer writes the widget html fragment for a job
type WidgetRenderer interface {
	RenderWidget(ctx context.Context, w io.Writer, job tracker.JobData) error
}

// Render copies the html document from r to w with widgets mounted into all mount points.
// Mount points with malformed descriptors are left untouched. Returns the number of mounted widgets.
func Render(ctx context.Context, r io.Reader, w io.Writer, widgets WidgetRenderer) (int, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return 0, fmt.Errorf("failed to parse html: %w", err)
	}

	count := 0
	for _, n := range Find(doc) {
		job, err := Descriptor(n)
		if err != nil {
			log.Printf("[WARN] skip mount point <%s>: %v", n.Data, err)
			continue
		}
		if err := mountWidget(ctx, n, job, widgets); err != nil {
			log.Printf("[WARN] failed to mount widget for %s: %v", job.ID, err)
			continue
		}
		count++
	}

	if err := html.Render(w, doc); err != nil {
		return count, fmt.Errorf("failed to render html: %w", err)
	}
	return count, nil
}

// Find returns all mount points under n in document order, nested mount points are not searched
func Find(n *html.Node) []*html.Node {
	var res []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && hasAttr(n, Attr) {
			res = append(res, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return res
}

// Descriptor decodes the job descriptor of a mount point
func Descriptor(n *html.Node) (tracker.JobData, error) {
	var job tracker.JobData
	for _, a := range n.Attr {
		if a.Namespace != "" || a.Key != Attr {
			continue
		}
		if err := json.Unmarshal([]byte(a.Val), &job); err != nil {
			return tracker.JobData{}, fmt.Errorf("bad %s value: %w", Attr, err)
		}
		if job.ID == "" {
			return tracker.JobData{}, fmt.Errorf("%s has no id", Attr)
		}
		return job, nil
	}
	return tracker.JobData{}, fmt.Errorf("no %s attribute", Attr)
}

func mountWidget(ctx context.Context, n *html.Node, job tracker.JobData, widgets WidgetRenderer) error {
	var buf bytes.Buffer
	if err := widgets.RenderWidget(ctx, &buf, job); err != nil {
		return fmt.Errorf("render: %w", err)
	}
	nodes, err := html.ParseFragment(&buf, &html.Node{Type: html.ElementNode, Data: n.Data, DataAtom: n.DataAtom})
	if err != nil {
		return fmt.Errorf("parse widget: %w", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	setAttr(n, "data-tracker-mounted", "true")
	return nil
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
