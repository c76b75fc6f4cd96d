package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// openZip opens an OOXML or OpenDocument package held in memory.
func openZip(format string, content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract %s: not a zip: %w", format, err)
	}
	return zr, nil
}

// readPart returns the bytes of the named part, or nil when absent.
func readPart(format string, f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("extract %s: open %s: %w", format, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("extract %s: read %s: %w", format, f.Name, err)
	}
	return data, nil
}

// findPart reads the part called name. A missing part is an error.
func findPart(format string, zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readPart(format, f)
		}
	}
	return nil, fmt.Errorf("extract %s: %s not found", format, name)
}
