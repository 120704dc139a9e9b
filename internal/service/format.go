package service

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatPoints renders an amount with thousands separators, e.g. 1,250.
func FormatPoints(n int64) string {
	return printer.Sprintf("%d", n)
}

// FormatDate renders t with a Go layout, falling back to 2006-01-02.
func FormatDate(t time.Time, layout string) string {
	if layout == "" {
		layout = "2006-01-02"
	}
	return t.Format(layout)
}

// FormatDuration renders a number of seconds as "3d 4h 5m" style text.
func FormatDuration(seconds int64) string {
	if seconds <= 0 {
		return "0m"
	}
	d := seconds / 86400
	h := seconds % 86400 / 3600
	m := seconds % 3600 / 60
	s := seconds % 60

	out := ""
	if d > 0 {
		out += printer.Sprintf("%dd ", d)
	}
	if d > 0 || h > 0 {
		out += printer.Sprintf("%dh ", h)
	}
	if m > 0 || out != "" || s == 0 {
		out += printer.Sprintf("%dm", m)
	} else {
		out += printer.Sprintf("%ds", s)
	}
	return out
}
