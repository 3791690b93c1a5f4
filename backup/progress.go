package backup

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	percentRe = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)%`)
	// "Sending 'Manifest.db' (12 KB)" / "Receiving 'Snapshot/...'"
	fileRe = regexp.MustCompile(`^(?:Sending|Receiving)\s+'([^']+)'`)
)

// lineEvent is what one line of idevicebackup2 output tells us
type lineEvent struct {
	percent    float64
	hasPercent bool
	file       string
	finishing  bool
}

func parseLine(line string) lineEvent {
	var ev lineEvent
	line = strings.TrimSpace(line)

	if m := percentRe.FindStringSubmatch(line); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
			ev.percent, ev.hasPercent = v, true
		}
	}
	if m := fileRe.FindStringSubmatch(line); m != nil {
		ev.file = m[1]
	}
	if strings.HasPrefix(line, "Backup Successful") || strings.HasPrefix(line, "Received ") {
		ev.finishing = true
	}
	return ev
}
