package mapping

import (
	"context"
	"io"
	"os"
	"path"

	"github.com/mholt/archives"
	"gitlab.com/tozd/go/errors"
)

// openVersionFile opens a file backing version, translating a missing file
// into a NoSuchVersionError.
func openVersionFile(version, name string) (*os.File, error) {
	if name == "" {
		return nil, &NoSuchVersionError{Version: version}
	}
	f, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &NoSuchVersionError{Version: version}
		}
		return nil, errors.Errorf("opening %s: %w", name, err)
	}
	return f, nil
}

// readArchiveEntries extracts the wanted entries from the archive at name.
// Entries are matched by base name so tables nested in a directory are found.
func readArchiveEntries(ctx context.Context, version, name string, wanted []string) (map[string][]byte, error) {
	f, err := openVersionFile(version, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, name, f)
	if err != nil {
		if errors.Is(err, archives.NoMatch) {
			return nil, &ParseError{Version: version, Entry: path.Base(name), Detail: "unrecognised archive format"}
		}
		return nil, errors.Errorf("identifying %s: %w", name, err)
	}
	extractor, ok := format.(archives.Extractor)
	if !ok || !canExtract(format) {
		return nil, &ParseError{Version: version, Entry: path.Base(name), Detail: "not an archive"}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Errorf("rewinding %s: %w", name, err)
	}

	want := make(map[string]bool, len(wanted))
	for _, w := range wanted {
		want[w] = true
	}

	entries := make(map[string][]byte, len(wanted))
	err = extractor.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
		if info.IsDir() {
			return nil
		}
		base := path.Base(info.NameInArchive)
		if !want[base] {
			return nil
		}
		if _, seen := entries[base]; seen {
			return nil
		}
		rdr, err := info.Open()
		if err != nil {
			return errors.Errorf("opening entry %s: %w", info.NameInArchive, err)
		}
		defer rdr.Close()
		data, err := io.ReadAll(rdr)
		if err != nil {
			return errors.Errorf("reading entry %s: %w", info.NameInArchive, err)
		}
		entries[base] = data
		return nil
	})
	if err != nil {
		return nil, errors.Errorf("extracting %s: %w", name, err)
	}
	return entries, nil
}

// readTable reads a single table that may be plain text, compressed, or the
// first regular file of an archive.
func readTable(ctx context.Context, version, name string) ([]byte, error) {
	f, err := openVersionFile(version, name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	format, _, err := archives.Identify(ctx, name, f)
	if err != nil && !errors.Is(err, archives.NoMatch) {
		return nil, errors.Errorf("identifying %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Errorf("rewinding %s: %w", name, err)
	}
	if format == nil || errors.Is(err, archives.NoMatch) {
		return io.ReadAll(f)
	}

	if extractor, ok := format.(archives.Extractor); ok && canExtract(format) {
		var data []byte
		found := false
		err := extractor.Extract(ctx, f, func(ctx context.Context, info archives.FileInfo) error {
			if found || info.IsDir() {
				return nil
			}
			rdr, err := info.Open()
			if err != nil {
				return errors.Errorf("opening entry %s: %w", info.NameInArchive, err)
			}
			defer rdr.Close()
			data, err = io.ReadAll(rdr)
			if err != nil {
				return errors.Errorf("reading entry %s: %w", info.NameInArchive, err)
			}
			found = true
			return nil
		})
		if err != nil {
			return nil, errors.Errorf("extracting %s: %w", name, err)
		}
		if !found {
			return nil, &ParseError{Version: version, Entry: path.Base(name), Detail: "archive holds no files"}
		}
		return data, nil
	}

	decompressor := decompressorFor(format)
	if decompressor == nil {
		return nil, errors.Errorf("unable to read format %T", format)
	}
	rdr, err := decompressor.OpenReader(f)
	if err != nil {
		return nil, errors.Errorf("opening compression reader: %w", err)
	}
	defer rdr.Close()
	return io.ReadAll(rdr)
}

// canExtract filters out compressed single files, which satisfy Extractor
// through CompressedArchive but carry no archival layer.
func canExtract(format archives.Format) bool {
	switch ca := format.(type) {
	case archives.CompressedArchive:
		return ca.Extraction != nil
	case *archives.CompressedArchive:
		return ca.Extraction != nil
	}
	return true
}

func decompressorFor(format archives.Format) archives.Compression {
	switch f := format.(type) {
	case archives.CompressedArchive:
		return f.Compression
	case *archives.CompressedArchive:
		return f.Compression
	case archives.Compression:
		return f
	}
	return nil
}
