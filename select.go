package remotezip

import (
	"context"
	"fmt"

	"github.com/brightloom/remotezip/internal/ziptype"
)

// SelectionKind discriminates SelectionResult (spec.md §4.6).
type SelectionKind uint8

const (
	// SelectionArchive is a freshly assembled ZIP containing the selection.
	SelectionArchive SelectionKind = iota
	// SelectionSingleFile is the bypass for a one-entry selection: the
	// extracted bytes are returned directly, with no archival step.
	SelectionSingleFile
	// SelectionRedirect is the bypass for selecting every entry of a
	// URL-backed handle: no re-fetch happens, the caller should redirect
	// to RedirectURL instead.
	SelectionRedirect
)

// SelectionResult is the outcome of Select.
type SelectionResult struct {
	Kind SelectionKind

	// SelectionArchive / SelectionSingleFile
	Data     []byte
	Filename string
	Entries  []ziptype.Entry

	// SelectionRedirect
	RedirectURL string
}

// Select builds a new archive from the entries at paths, applying the two
// bypasses spec.md §4.6 requires before falling through to
// SurgicalArchiver: a single selected entry is returned as a plain
// download, and selecting every entry of a URL-backed handle is
// short-circuited to a redirect rather than a wasted re-fetch-and-rearchive
// round trip. Warnings report entries that failed to re-fetch during an
// archive build; they are never silently dropped.
func (h *ArchiveHandle) Select(ctx context.Context, paths []string) (*SelectionResult, []Warning, error) {
	selected := make([]ziptype.Entry, 0, len(paths))
	for _, p := range paths {
		entry, ok := h.byPath[p]
		if !ok {
			return nil, nil, fmt.Errorf("remotezip: select: %w: %s", ziptype.ErrEntryNotFound, p)
		}
		selected = append(selected, entry)
	}

	if len(selected) == 1 && !selected[0].IsDirectory {
		data, err := h.extractor.Extract(ctx, selected[0])
		if err != nil {
			return nil, nil, fmt.Errorf("remotezip: select: %s: %w", selected[0].Path, err)
		}
		return &SelectionResult{
			Kind:     SelectionSingleFile,
			Data:     data,
			Filename: selected[0].Name,
			Entries:  selected,
		}, nil, nil
	}

	if h.sourceURL != "" && len(selected) == len(h.entries) {
		return &SelectionResult{Kind: SelectionRedirect, RedirectURL: h.sourceURL}, nil, nil
	}

	result, warnings, err := h.archiver.Build(ctx, selected)
	if err != nil {
		return nil, warningsFromArchiver(warnings), fmt.Errorf("remotezip: select: %w", err)
	}
	return &SelectionResult{
		Kind:    SelectionArchive,
		Data:    result.Data,
		Entries: result.Entries,
	}, warningsFromArchiver(warnings), nil
}
