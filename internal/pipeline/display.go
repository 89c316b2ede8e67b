package pipeline

import (
	"strings"

	"notifybridge/internal/source"
)

// compose builds the overlay title and content for ev.
//
// With a display name the application name is the title and every text line goes in
// the content. Otherwise the event title (or the app id) is the title and the body
// lines are the content.
func compose(ev source.Event) (title, content string) {
	if ev.DisplayName != "" {
		lines := make([]string, 0, len(ev.Body)+1)
		if ev.Title != "" {
			lines = append(lines, ev.Title)
		}
		lines = append(lines, nonEmpty(ev.Body)...)
		return ev.DisplayName, strings.Join(lines, "\n")
	}
	title = ev.Title
	if title == "" {
		title = ev.AppID
	}
	return title, strings.Join(nonEmpty(ev.Body), "\n")
}

func nonEmpty(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}
