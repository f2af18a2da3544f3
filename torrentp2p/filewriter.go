package torrentp2p

import (
	"fmt"
	"os"
)

// fileWriter owns the output file verified pieces land in. The file is
// sized up front so pieces can be written at their final offsets in
// whatever order they complete.
type fileWriter struct {
	file *os.File
}

func newFileWriter(path string, length int64) (*fileWriter, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(length); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %s to %d bytes: %w", path, length, err)
	}
	return &fileWriter{file: f}, nil
}

func (fw *fileWriter) writeData(data []byte, offset int64) error {
	_, err := fw.file.WriteAt(data, offset)
	return err
}

func (fw *fileWriter) closeFile() error {
	return fw.file.Close()
}
