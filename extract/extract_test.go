package extract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightloom/remotezip/extract"
	"github.com/brightloom/remotezip/internal/bytesource"
	"github.com/brightloom/remotezip/internal/testutil"
	"github.com/brightloom/remotezip/internal/zipdir"
	"github.com/brightloom/remotezip/internal/ziptype"
)

func archiveWithEntries(t *testing.T, files ...testutil.File) (bytesource.Source, []ziptype.Entry) {
	t.Helper()
	b := testutil.NewBuilder()
	for _, f := range files {
		b.Add(f)
	}
	data := b.Build()
	src := bytesource.NewBuffer(data)
	dir, _, err := zipdir.NewParser().Parse(context.Background(), src)
	require.NoError(t, err)
	return src, dir.Entries
}

func TestExtractStored(t *testing.T) {
	t.Parallel()

	src, entries := archiveWithEntries(t, testutil.File{
		Name: "a.txt", Content: []byte("hello"), Method: testutil.MethodStored,
	})
	ex := extract.New(src)

	got, err := ex.Extract(context.Background(), entries[0])
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestExtractDeflate(t *testing.T) {
	t.Parallel()

	content := make([]byte, 1<<20)
	for i := range content {
		content[i] = 0x41
	}
	src, entries := archiveWithEntries(t, testutil.File{
		Name: "big.bin", Content: content, Method: testutil.MethodDeflate,
	})
	ex := extract.New(src)

	got, err := ex.Extract(context.Background(), entries[0])
	require.NoError(t, err)
	require.Len(t, got, len(content))
	require.Equal(t, content, got)
}

func TestExtractPreviewTooLarge(t *testing.T) {
	t.Parallel()

	src, entries := archiveWithEntries(t, testutil.File{
		Name: "big.bin", Content: make([]byte, 1024), Method: testutil.MethodStored,
	})
	ex := extract.New(src, extract.WithPreviewLimit(100))

	_, err := ex.Preview(context.Background(), entries[0])
	var tooLarge *ziptype.EntryTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, uint64(100), tooLarge.Limit)
}

func TestExtractEmptyEntry(t *testing.T) {
	t.Parallel()

	src, entries := archiveWithEntries(t, testutil.File{
		Name: "empty.txt", Content: []byte{}, Method: testutil.MethodStored,
	})
	ex := extract.New(src)

	got, err := ex.Extract(context.Background(), entries[0])
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestExtractConcurrentDeduplication(t *testing.T) {
	t.Parallel()

	src, entries := archiveWithEntries(t, testutil.File{
		Name: "a.txt", Content: []byte("shared content"), Method: testutil.MethodStored,
	})
	ex := extract.New(src)

	const n = 10
	results := make(chan []byte, n)
	for i := 0; i < n; i++ {
		go func() {
			got, err := ex.Extract(context.Background(), entries[0])
			require.NoError(t, err)
			results <- got
		}()
	}
	for i := 0; i < n; i++ {
		got := <-results
		require.Equal(t, []byte("shared content"), got)
	}
}

func TestExtractResolveRange(t *testing.T) {
	t.Parallel()

	src, entries := archiveWithEntries(t, testutil.File{
		Name: "a.txt", Content: []byte("hello"), Method: testutil.MethodStored,
	})
	ex := extract.New(src)

	start, end, err := ex.ResolveRange(context.Background(), entries[0])
	require.NoError(t, err)
	require.Equal(t, end-start+1, uint64(len("hello")))

	body, err := src.Read(context.Background(), start, end)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), body)
}

func TestClassifyName(t *testing.T) {
	t.Parallel()

	cases := map[string]extract.Kind{
		"photo.png":     extract.KindImage,
		"clip.mp4":      extract.KindVideo,
		"song.mp3":      extract.KindAudio,
		"doc.pdf":       extract.KindPDF,
		"report.docx":   extract.KindDocument,
		"sheet.xlsx":    extract.KindSpreadsheet,
		"slides.pptx":   extract.KindPresentation,
		"glyph.woff2":   extract.KindFont,
		"main.go":       extract.KindCode,
		"notes.md":      extract.KindText,
		"data.bin":      extract.KindUnsupported,
		"noextension":   extract.KindUnsupported,
	}
	for name, want := range cases {
		require.Equal(t, want, extract.ClassifyName(name), "name=%s", name)
	}
}
