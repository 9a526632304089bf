package mount

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/umputun/jobtrack/app/tracker"
)

type widgetFunc func(w io.Writer, job tracker.JobData) error

func (f widgetFunc) RenderWidget(_ context.Context, w io.Writer, job tracker.JobData) error {
	return f(w, job)
}

var simpleWidget = widgetFunc(func(w io.Writer, job tracker.JobData) error {
	_, err := fmt.Fprintf(w, `<button class="tracker-btn" data-id="%s">Save %s</button>`, job.ID, html.EscapeString(job.Title))
	return err
})

const page = `<!DOCTYPE html><html><head><title>Jobs</title></head><body>
<article><h2>Engineer</h2>
<div class="tracker" data-tracker-job='{"id":"j1","title":"Engineer","company":"Acme"}'><noscript>loading</noscript></div>
</article>
<article><h2>Broken</h2><div data-tracker-job='{"id":'>keep me</div></article>
<article><h2>No id</h2><div data-tracker-job='{"title":"x"}'>keep me too</div></article>
<section data-tracker-job='{"id":"j2","title":"Analyst & Co"}'></section>
</body></html>`

func TestRender(t *testing.T) {
	var out bytes.Buffer
	n, err := Render(t.Context(), strings.NewReader(page), &out, simpleWidget)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	res := out.String()
	assert.Contains(t, res, `<button class="tracker-btn" data-id="j1">Save Engineer</button>`)
	assert.Contains(t, res, `<button class="tracker-btn" data-id="j2">Save Analyst &amp; Co</button>`)
	assert.NotContains(t, res, "loading", "previous children replaced")
	assert.Contains(t, res, ">keep me</div>")
	assert.Contains(t, res, ">keep me too</div>")
	assert.Equal(t, 2, strings.Count(res, `data-tracker-mounted="true"`))
	assert.Contains(t, res, "<title>Jobs</title>")
}

func TestRender_WidgetError(t *testing.T) {
	failing := widgetFunc(func(w io.Writer, job tracker.JobData) error {
		if job.ID == "j2" {
			return errors.New("template failed")
		}
		return simpleWidget(w, job)
	})
	var out bytes.Buffer
	n, err := Render(t.Context(), strings.NewReader(page), &out, failing)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), `data-id="j1"`)
	assert.NotContains(t, out.String(), `data-id="j2"`)
}

func TestRender_NoMountPoints(t *testing.T) {
	var out bytes.Buffer
	n, err := Render(t.Context(), strings.NewReader("<p>hello</p>"), &out, simpleWidget)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, "<html><head></head><body><p>hello</p></body></html>", out.String())
}

func TestFind(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(`<div data-tracker-job='{"id":"a"}'><span data-tracker-job='{"id":"nested"}'></span></div>` +
		`<p><span data-tracker-job='{"id":"b"}'></span></p>`))
	require.NoError(t, err)
	nodes := Find(doc)
	require.Len(t, nodes, 2)

	ids := []string{}
	for _, n := range nodes {
		job, err := Descriptor(n)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestDescriptor(t *testing.T) {
	tbl := []struct {
		attr    html.Attribute
		id      string
		wantErr string
	}{
		{html.Attribute{Key: Attr, Val: `{"id":"x","title":"T","applyUrl":"https://a"}`}, "x", ""},
		{html.Attribute{Key: Attr, Val: `not json`}, "", "bad data-tracker-job value"},
		{html.Attribute{Key: Attr, Val: `{}`}, "", "has no id"},
		{html.Attribute{Key: "data-other", Val: `{"id":"x"}`}, "", "no data-tracker-job attribute"},
	}
	for _, tt := range tbl {
		t.Run(tt.attr.Val, func(t *testing.T) {
			job, err := Descriptor(&html.Node{Type: html.ElementNode, Data: "div", Attr: []html.Attribute{tt.attr}})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.id, job.ID)
		})
	}
}
