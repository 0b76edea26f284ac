package loader

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/perbu/kbcite/pkg/kbcite"
)

// ErrUnknownMode is returned for a mode outside the fixed mode table.
var ErrUnknownMode = errors.New("unknown mode")

// BaselineFiles are loaded first in every mode.
var BaselineFiles = []string{"product_overview.md", "faq.md"}

// ModeConfig says where a mode's documents live and which files to read.
type ModeConfig struct {
	Root  string   // slash path below the KB root, "" for the root itself
	Files []string // baseline first, then mode-specific files
}

var modeOrder = []kbcite.Mode{kbcite.ModeOperator, kbcite.ModeMarketing, kbcite.ModeStrategic}

var modeFiles = map[kbcite.Mode]struct {
	root  string
	files []string
}{
	kbcite.ModeOperator:  {files: []string{"onboarding_steps.md", "support_playbook.md"}},
	kbcite.ModeMarketing: {files: []string{"marketing_playbook.md"}},
	// the strategic set, baseline included, lives in its own sub-directory
	kbcite.ModeStrategic: {root: "ceo", files: []string{"strategic_framework.md", "decision_making.md", "board_coordination.md"}},
}

var (
	headingRe   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	nonAlnumRe  = regexp.MustCompile(`[^a-z0-9]+`)
	maxLineSize = 1024 * 1024
)

// Modes lists every defined mode.
func Modes() []kbcite.Mode {
	return append([]kbcite.Mode(nil), modeOrder...)
}

// ResolveMode returns the root and file list for mode.
func ResolveMode(mode kbcite.Mode) (ModeConfig, error) {
	entry, ok := modeFiles[mode]
	if !ok {
		return ModeConfig{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
	files := make([]string, 0, len(BaselineFiles)+len(entry.files))
	files = append(files, BaselineFiles...)
	files = append(files, entry.files...)
	return ModeConfig{Root: entry.root, Files: files}, nil
}

// Loader reads mode document sets from a filesystem.
type Loader struct {
	fsys   fs.FS
	logger *zap.Logger
}

// New creates a Loader over fsys, whose root is the KB root.
func New(fsys fs.FS, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fsys: fsys, logger: logger}
}

// NewDir creates a Loader over a directory on disk.
func NewDir(root string, logger *zap.Logger) *Loader {
	return New(os.DirFS(root), logger)
}

// LoadForMode reads the document set of mode. Unreadable files are left out
// of the set; only an unknown mode is an error.
func (l *Loader) LoadForMode(mode kbcite.Mode) (kbcite.KBVersion, error) {
	cfg, err := ResolveMode(mode)
	if err != nil {
		return kbcite.KBVersion{}, err
	}

	docs := make([]kbcite.Document, 0, len(cfg.Files))
	for _, filename := range cfg.Files {
		content, err := fs.ReadFile(l.fsys, path.Join(cfg.Root, filename))
		if err != nil {
			l.logger.Debug("skipping unreadable document",
				zap.String("mode", string(mode)),
				zap.String("filename", filename),
				zap.Error(err))
			continue
		}

		text := string(content)
		docs = append(docs, kbcite.Document{
			Filename: filename,
			Content:  text,
			Headings: ExtractHeadings(text),
		})
	}

	return kbcite.KBVersion{
		Fingerprint: kbcite.VersionFingerprint(docs),
		Docs:        docs,
		Mode:        mode,
	}, nil
}

// ExtractHeadings returns the markdown headings found in content, in order.
// A heading is a line starting with 1-6 '#' followed by whitespace and text.
func ExtractHeadings(content string) []kbcite.Heading {
	var headings []kbcite.Heading

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		if h, ok := parseHeading(scanner.Text()); ok {
			headings = append(headings, h)
		}
	}
	if scanner.Err() == nil {
		return headings
	}

	// a line too long for the scanner: start over without a line limit
	headings = headings[:0]
	for _, line := range strings.Split(content, "\n") {
		if h, ok := parseHeading(strings.TrimSuffix(line, "\r")); ok {
			headings = append(headings, h)
		}
	}
	return headings
}

func parseHeading(line string) (kbcite.Heading, bool) {
	match := headingRe.FindStringSubmatch(line)
	if match == nil {
		return kbcite.Heading{}, false
	}
	text := strings.TrimSpace(match[2])
	return kbcite.Heading{
		Level:  len(match[1]),
		Text:   text,
		Anchor: Anchor(text),
	}, true
}

// Anchor lower-cases text, collapses every run of non-alphanumerics into one
// hyphen and trims hyphens from both ends.
func Anchor(text string) string {
	slug := nonAlnumRe.ReplaceAllString(strings.ToLower(text), "-")
	return strings.Trim(slug, "-")
}
