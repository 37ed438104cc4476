package executor

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

type payloadKind int

const (
	kindUnknown payloadKind = iota
	kindTar
	kindGzip
	kindTIFF
)

var (
	gzipMagic   = []byte{0x1f, 0x8b}
	tiffLittle  = []byte{'I', 'I', 42, 0}
	tiffBig     = []byte{'M', 'M', 0, 42}
	bigTIFFLE   = []byte{'I', 'I', 43, 0}
	bigTIFFBE   = []byte{'M', 'M', 0, 43}
	ustarMagic  = []byte("ustar")
	ustarOffset = 257
)

// sniff classifies a payload by its leading bytes. The declared content type
// is only a fallback since providers are not consistent about it.
func sniff(head []byte, contentType string) payloadKind {
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		return kindGzip
	case bytes.HasPrefix(head, tiffLittle), bytes.HasPrefix(head, tiffBig),
		bytes.HasPrefix(head, bigTIFFLE), bytes.HasPrefix(head, bigTIFFBE):
		return kindTIFF
	case len(head) >= ustarOffset+len(ustarMagic) && bytes.Equal(head[ustarOffset:ustarOffset+len(ustarMagic)], ustarMagic):
		return kindTar
	}
	switch contentType {
	case "application/x-tar", "application/tar":
		return kindTar
	case "application/gzip", "application/x-gzip":
		return kindGzip
	case "image/tiff":
		return kindTIFF
	}
	return kindUnknown
}

// unpack extracts one file per band from payloadPath into dir and returns
// band -> extracted path. Every band must be present.
func unpack(payloadPath, contentType, dir string, bands []string) (map[string]string, error) {
	f, err := os.Open(payloadPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPackaging, err)
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1024)
	head, err := br.Peek(ustarOffset + len(ustarMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: read payload: %v", ErrPackaging, err)
	}
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrPackaging)
	}

	var extracted map[string]string
	switch sniff(head, contentType) {
	case kindTIFF:
		if len(bands) != 1 {
			return nil, fmt.Errorf("%w: single raster payload for %d bands", ErrPackaging, len(bands))
		}
		dst := filepath.Join(dir, bands[0]+".tif")
		if err := writeFile(dst, br); err != nil {
			return nil, err
		}
		extracted = map[string]string{bands[0]: dst}
	case kindGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%w: gzip: %v", ErrPackaging, err)
		}
		defer zr.Close()
		extracted, err = untar(zr, dir, bands)
		if err != nil {
			return nil, err
		}
	case kindTar:
		extracted, err = untar(br, dir, bands)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: unrecognized payload type %q", ErrPackaging, contentType)
	}

	var missing []string
	for _, b := range bands {
		if _, ok := extracted[b]; !ok {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing bands %s", ErrPackaging, strings.Join(missing, ","))
	}
	return extracted, nil
}

// untar writes archive members named after a requested band. Other members,
// such as userdata.json, are ignored. Member paths are reduced to their base
// name so nothing escapes dir.
func untar(r io.Reader, dir string, bands []string) (map[string]string, error) {
	canonical := make(map[string]string, len(bands))
	for _, b := range bands {
		canonical[strings.ToLower(b)] = b
	}

	out := make(map[string]string, len(bands))
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar: %v", ErrPackaging, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Base(filepath.ToSlash(hdr.Name))
		ext := path.Ext(name)
		if !strings.EqualFold(ext, ".tif") && !strings.EqualFold(ext, ".tiff") {
			continue
		}
		key := strings.ToLower(strings.TrimSuffix(name, ext))
		band, ok := canonical[key]
		if !ok {
			if key != "default" || len(bands) != 1 {
				continue
			}
			band = bands[0]
		}

		dst := filepath.Join(dir, band+".tif")
		if err := writeFile(dst, tr); err != nil {
			return nil, err
		}
		out[band] = dst
	}
	return out, nil
}

func writeFile(dst string, r io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(dst), err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: extract %s: %v", ErrPackaging, filepath.Base(dst), err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s is empty", ErrPackaging, filepath.Base(dst))
	}
	return nil
}
