package workflows

import (
	"net/url"
	"strings"
	"unicode"

	"fragmentforge/internal/runstate"
)

// RunResult is the user-facing output distilled from a finished run.
type RunResult struct {
	URL     string            `json:"url"`
	Title   string            `json:"title"`
	Summary string            `json:"summary"`
	Files   map[string]string `json:"files"`
}

// ResultFromState extracts the run output. The preview URL always comes
// from run state: tools record it there the moment the sandbox exposes
// it, so it survives even when the final assistant text omits it.
func ResultFromState(st *runstate.State) RunResult {
	summary := st.Summary()
	return RunResult{
		URL:     st.ContainerPreviewURL(),
		Title:   titleFromSummary(summary),
		Summary: summary,
		Files:   st.Files(),
	}
}

const defaultTitle = "Fragment"

// titleFromSummary derives a short display title from the summary text.
func titleFromSummary(summary string) string {
	text := strings.ReplaceAll(summary, "<task_summary>", "")
	text = strings.ReplaceAll(text, "</task_summary>", "")
	text = strings.TrimSpace(text)
	if text == "" {
		return defaultTitle
	}

	if i := strings.IndexAny(text, ".\n"); i > 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) == 0 {
		return defaultTitle
	}
	if len(runes) > 60 {
		text = strings.TrimSpace(string(runes[:60])) + "…"
	}
	return string(unicode.ToUpper([]rune(text)[0])) + string([]rune(text)[1:])
}

// containerNameFromURL recovers the container name from a preview URL;
// the sandbox exposes containers as the first host label.
func containerNameFromURL(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return ""
}
