//go:build e2e

package e2e

import (
	"os"
	"strings"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ListsSavedJobs(t *testing.T) {
	removeIfTracked(t, "e2e-1")
	t.Cleanup(func() { removeIfTracked(t, "e2e-1") })

	page := newPage(t)
	navigateToBoard(t, page)
	require.NoError(t, widget(page, "e2e-1").Locator(".tracker-btn-save").Click())
	waitVisible(t, widget(page, "e2e-1").Locator(".tracker-status"))

	_, err := page.Goto(baseURL + "/tracker")
	require.NoError(t, err)
	row := page.Locator(".application-row[data-job-id='e2e-1']")
	waitVisible(t, row)
	text, err := row.Locator(".job-title").TextContent()
	require.NoError(t, err)
	assert.Contains(t, text, "Backend Engineer")

	// notes are saved on change
	require.NoError(t, row.Locator("textarea[name='notes']").Fill("recruiter call monday"))
	require.NoError(t, row.Locator("textarea[name='notes']").Blur())
	require.NoError(t, row.Locator(".notes-state:has-text('Notes saved')").
		WaitFor(playwright.LocatorWaitForOptions{Timeout: playwright.Float(5000)}))

	// status filter hides other statuses
	_, err = page.Goto(baseURL + "/tracker?status=offer")
	require.NoError(t, err)
	waitVisible(t, page.Locator(".applications .empty"))
}

func TestTracker_ExportCSV(t *testing.T) {
	removeIfTracked(t, "e2e-2")
	t.Cleanup(func() { removeIfTracked(t, "e2e-2") })

	page := newPage(t)
	navigateToBoard(t, page)
	require.NoError(t, widget(page, "e2e-2").Locator(".tracker-btn-save").Click())
	waitVisible(t, widget(page, "e2e-2").Locator(".tracker-status"))

	_, err := page.Goto(baseURL + "/tracker")
	require.NoError(t, err)
	download, err := page.ExpectDownload(func() error {
		return page.Locator("a.export").Click()
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(download.SuggestedFilename(), "job-applications-"))

	fname, err := download.Path()
	require.NoError(t, err)
	data, err := os.ReadFile(fname) //nolint:gosec // playwright download path
	require.NoError(t, err)
	assert.Contains(t, string(data), "Title,Company,Location,Status,Notes,Apply URL,Posted Date,Saved Date")
	assert.Contains(t, string(data), `"Data Analyst","Beta","Remote","Saved"`)
}

func TestTheme_Toggle(t *testing.T) {
	page := newPage(t)
	navigateToBoard(t, page)

	theme, err := page.Locator("html").GetAttribute("data-theme")
	require.NoError(t, err)
	assert.Equal(t, "light", theme)

	require.NoError(t, page.Locator(".theme-toggle").Click())
	require.NoError(t, page.Locator("html[data-theme='dark']").
		WaitFor(playwright.LocatorWaitForOptions{Timeout: playwright.Float(5000)}))
}
