package doc2pdf

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// SourceKind identifies what a Request carries and therefore which
// toolchain compiles it.
type SourceKind string

// Source kinds.
const (
	KindMarkup         SourceKind = "markup"          // LaTeX source
	KindBinaryDocument SourceKind = "binary-document" // DOCX, ODT, RTF...
	KindHTML           SourceKind = "html"            // standalone HTML page
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	switch k {
	case KindMarkup, KindBinaryDocument, KindHTML:
		return true
	}
	return false
}

// Stage is a step of the per-request compilation state machine.
// Failures jump from any stage straight to StageCleaned.
type Stage string

// Compilation stages, in order.
const (
	StageReceived       Stage = "received"
	StageInputWritten   Stage = "input-written"
	StageCompiling      Stage = "compiling"
	StageOutputVerified Stage = "output-verified"
	StageCleaned        Stage = "cleaned"
)

// Request describes one compilation. It is not modified by the service.
type Request struct {
	ID       string     // Optional; a random identifier is drawn when empty
	Kind     SourceKind // Required
	Content  []byte     // Required, non-empty
	Filename string     // Original upload name, selects the input extension for binary documents
	Options  Options
}

// Result is a successful compilation.
type Result struct {
	RequestID string
	PDF       []byte
	Engine    string
	Duration  time.Duration
}

// Page size constants.
const (
	PageSizeLetter = "letter"
	PageSizeA4     = "a4"
	PageSizeLegal  = "legal"
)

// Orientation constants.
const (
	OrientationPortrait  = "portrait"
	OrientationLandscape = "landscape"
)

// Margin bounds in inches.
const (
	MinMargin     = 0.1
	MaxMargin     = 3.0
	DefaultMargin = 1.0
)

// Recognized option keys. Anything else is ignored.
const (
	OptionPageSize           = "pageSize"
	OptionMargin             = "margin"
	OptionOrientation        = "orientation"
	OptionPreserveFormatting = "preserveFormatting"
)

// Options carries layout settings passed through to the converter.
// Zero values mean "converter default".
type Options struct {
	PageSize           string  // "letter", "a4", "legal"
	Orientation        string  // "portrait", "landscape"
	Margin             float64 // inches, all sides; 0 = default
	PreserveFormatting *bool   // nil = true for binary documents
}

// PreservesFormatting reports whether the original document layout should
// be kept. Defaults to true.
func (o Options) PreservesFormatting() bool {
	return o.PreserveFormatting == nil || *o.PreserveFormatting
}

// pageSize returns the normalized page size, falling back to letter.
func (o Options) pageSize() string {
	if o.PageSize == "" {
		return PageSizeLetter
	}
	return o.PageSize
}

// margin returns the margin in inches, falling back to DefaultMargin.
func (o Options) margin() float64 {
	if o.Margin <= 0 {
		return DefaultMargin
	}
	return o.Margin
}

// landscape reports whether landscape orientation was requested.
func (o Options) landscape() bool {
	return o.Orientation == OrientationLandscape
}

// String renders the options in a stable form, used for cache keys and logs.
func (o Options) String() string {
	return fmt.Sprintf("size=%s;orientation=%s;margin=%.2f;preserve=%t",
		o.pageSize(), o.Orientation, o.margin(), o.PreservesFormatting())
}

// ParseOptions builds Options from loosely typed caller settings.
// Unknown keys and unparseable values are reported in ignored and otherwise
// skipped: an odd combination never fails a request.
func ParseOptions(raw map[string]string) (opts Options, ignored []string) {
	for key, value := range raw {
		value = strings.TrimSpace(value)
		switch key {
		case OptionPageSize:
			if size, ok := parsePageSize(value); ok {
				opts.PageSize = size
				continue
			}
		case OptionOrientation:
			if o, ok := parseOrientation(value); ok {
				opts.Orientation = o
				continue
			}
		case OptionMargin:
			if m, ok := ParseMargin(value); ok {
				opts.Margin = m
				continue
			}
		case OptionPreserveFormatting:
			if b, err := strconv.ParseBool(value); err == nil {
				opts.PreserveFormatting = &b
				continue
			}
		}
		ignored = append(ignored, key)
	}
	slices.Sort(ignored)
	return opts, ignored
}

// parsePageSize checks if size is a known page size (case-insensitive).
func parsePageSize(size string) (string, bool) {
	switch s := strings.ToLower(size); s {
	case PageSizeLetter, PageSizeA4, PageSizeLegal:
		return s, true
	}
	return "", false
}

// parseOrientation checks if orientation is valid (case-insensitive).
func parseOrientation(orientation string) (string, bool) {
	switch o := strings.ToLower(orientation); o {
	case OrientationPortrait, OrientationLandscape:
		return o, true
	}
	return "", false
}

var marginPattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(in|cm|mm|pt)?$`)

// Conversion factors to inches.
var marginUnits = map[string]float64{
	"":   1,
	"in": 1,
	"cm": 1 / 2.54,
	"mm": 1 / 25.4,
	"pt": 1.0 / 72,
}

// ParseMargin converts "1in", "2.5cm", "20mm", "36pt" or a bare number of
// inches to inches, clamped to [MinMargin, MaxMargin].
func ParseMargin(s string) (float64, bool) {
	m := marginPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	inches := v * marginUnits[m[2]]
	return min(max(inches, MinMargin), MaxMargin), true
}
