package processor

import (
	"sort"
	"strings"

	"github.com/dvloznov/finance-import/internal/jobs"
)

// Factory maps file extensions to processors.
// It is read-only after construction and safe for concurrent use.
type Factory struct {
	byExt map[string]Processor
}

// NewFactory registers processors under each of their extensions.
// A later processor claiming an extension replaces the earlier one.
func NewFactory(processors ...Processor) *Factory {
	f := &Factory{byExt: make(map[string]Processor)}
	for _, p := range processors {
		for _, ext := range p.Extensions() {
			f.byExt[normalizeExt(ext)] = p
		}
	}
	return f
}

// NewDefaultFactory wires the spreadsheet and OFX processors to store.
func NewDefaultFactory(store EntityStore) *Factory {
	return NewFactory(NewSpreadsheetProcessor(store), NewOFXProcessor(store))
}

// ForExtension returns the processor registered for ext, matched case-insensitively
// with or without the leading dot.
func (f *Factory) ForExtension(ext string) (Processor, error) {
	if p, ok := f.byExt[normalizeExt(ext)]; ok {
		return p, nil
	}
	return nil, &UnsupportedFormatError{Extension: ext, Supported: f.Supported()}
}

// Supported returns every registered extension, sorted.
func (f *Factory) Supported() []string {
	exts := make([]string, 0, len(f.byExt))
	for ext := range f.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// SourceFor reports the job source whose processor handles ext.
func (f *Factory) SourceFor(ext string) (jobs.Source, bool) {
	p, ok := f.byExt[normalizeExt(ext)]
	if !ok {
		return "", false
	}
	return p.Source(), true
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
