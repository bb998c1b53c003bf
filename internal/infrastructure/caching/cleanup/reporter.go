// Package cleanup provides ascii reporter
package cleanup

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/caching/signedurl"
	"github.com/AtRiskMedia/assetsign/internal/infrastructure/coalescing"
)

const (
	cyan        = "\033[38;2;86;182;194m"  // One Dark Cyan: #56B6C2
	cyanBright  = "\033[38;2;97;228;240m"  // Brighter Cyan: #61E4F0
	dimCyan     = "\033[38;2;47;91;102m"   // Dim Cyan: #2F5B66
	grey        = "\033[38;2;110;118;129m" // Brighter Grey: #6E7681
	dimGrey     = "\033[38;2;75;82;99m"    // Darker Grey: #4B5263
	success     = "\033[38;2;62;130;144m"  // Dim Cyan: #3E8290
	warning     = "\033[38;2;229;192;123m" // One Dark Yellow: #E5C07B
	errorRed    = "\033[38;2;224;108;117m" // One Dark Red: #E06C75
	white       = "\033[38;2;171;178;191m" // One Dark Foreground: #ABB2BF
	whiteBright = "\033[38;2;220;225;230m" // Brighter White
	purple      = "\033[38;2;198;120;221m" // One Dark Purple: #C678DD
	dimPurple   = "\033[38;2;142;87;158m"  // Dim Purple: #8E579E
	reset       = "\033[0m"
	bold        = "\033[1m"
)

// Snapshotter is the read side of the signed URL cache the reporter needs.
type Snapshotter interface {
	Stats() signedurl.Stats
	Coalescer() *coalescing.Coalescer
}

type Reporter struct {
	cache Snapshotter
	out   io.Writer
}

func NewReporter(cache Snapshotter, out io.Writer) *Reporter {
	if out == nil {
		out = os.Stdout
	}
	return &Reporter{cache: cache, out: out}
}

func (r *Reporter) LogStage(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, grey, formattedMsg, reset)
}

func (r *Reporter) LogSuccess(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s✦ %s%s%s\n", success, bold, white, formattedMsg, reset)
}

func (r *Reporter) LogWarning(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s%s⚠ WARNING: %s%s%s\n", bold, warning, grey, formattedMsg, reset)
}

func (r *Reporter) LogInfo(message string, args ...any) {
	formattedMsg := fmt.Sprintf(message, args...)
	fmt.Fprintf(r.out, "%s▶ %s%s%s\n", dimGrey, grey, formattedMsg, reset)
}

// GenerateReport renders the cache occupancy and the coalescer counters.
func (r *Reporter) GenerateReport() string {
	var report strings.Builder
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05 MST")
	stats := r.cache.Stats()

	report.WriteString(fmt.Sprintf("%s%s▓ %s | %sSigned URL cache%s\n", bold, dimCyan, timestamp, whiteBright, reset))

	// Occupancy line
	fill := 0
	if stats.MaxSize > 0 {
		fill = stats.Size * 100 / stats.MaxSize
	}
	color := cyanBright
	if fill >= 90 {
		color = warning
	}
	report.WriteString(fmt.Sprintf("%s✦ %sentries: %s%d/%d %s(%d%%)%s\n",
		success, grey, color, stats.Size, stats.MaxSize, dimGrey, fill, reset))

	// Namespaces and staleness
	var assets, storage, stale int
	for _, e := range stats.Entries {
		switch {
		case strings.HasPrefix(e.Key, "asset:"):
			assets++
		case strings.HasPrefix(e.Key, "storage:"):
			storage++
		}
		if e.Stale {
			stale++
		}
	}

	formatItem := func(label string, count int, labelColor, valueColor string) string {
		if count > 0 {
			return fmt.Sprintf(" %s%s:%s%d", labelColor, label, valueColor, count)
		}
		return fmt.Sprintf(" %s%s:%s--", dimGrey, label, dimGrey)
	}

	var keysLine strings.Builder
	keysLine.WriteString(fmt.Sprintf("%s✦ keys:%s", cyanBright, reset))
	keysLine.WriteString(formatItem("asset", assets, dimCyan, cyan))
	keysLine.WriteString(formatItem("storage", storage, dimCyan, cyan))
	if stale > 0 {
		keysLine.WriteString(fmt.Sprintf(" %sstale:%s%d", errorRed, white, stale))
	} else {
		keysLine.WriteString(formatItem("stale", 0, dimCyan, cyan))
	}
	report.WriteString(keysLine.String() + reset + "\n")

	if c := r.cache.Coalescer(); c != nil {
		cs := c.Stats()
		var activity strings.Builder
		activity.WriteString(fmt.Sprintf("%s✦ coalescer:%s", purple, reset))
		activity.WriteString(formatItem("in-flight", cs.InFlightCount, dimPurple, white))
		activity.WriteString(formatItem("deduplicated", int(cs.TotalDuplicatesAvoided), dimPurple, white))
		report.WriteString(activity.String() + reset + "\n")
	}

	return report.String()
}
