package operations

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// CompressZstd writes a zstd-compressed copy of inputPath to outputPath.
// The input is left in place; on error no output file remains.
func CompressZstd(inputPath, outputPath string) (err error) {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer inFile.Close()

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := outFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	writer, err := zstd.NewWriter(outFile)
	if err != nil {
		return fmt.Errorf("failed to create Zstandard writer: %w", err)
	}
	if _, err := io.Copy(writer, inFile); err != nil {
		writer.Close()
		return fmt.Errorf("failed to compress file: %w", err)
	}
	// Close flushes the final frame.
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}
	return nil
}

// DecompressZstd expands a .zst file into a new temporary file inside dir and
// returns its path. The caller removes it.
func DecompressZstd(inputPath, dir string) (_ string, err error) {
	inFile, err := os.Open(inputPath)
	if err != nil {
		return "", fmt.Errorf("failed to open compressed file: %w", err)
	}
	defer inFile.Close()

	reader, err := zstd.NewReader(inFile)
	if err != nil {
		return "", fmt.Errorf("failed to create Zstandard reader: %w", err)
	}
	defer reader.Close()

	base := strings.TrimSuffix(filepath.Base(inputPath), ".zst")
	outFile, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create output file: %w", err)
	}
	outputPath := outFile.Name()
	defer func() {
		if cerr := outFile.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file: %w", cerr)
		}
		if err != nil {
			os.Remove(outputPath)
		}
	}()

	if _, err := io.Copy(outFile, reader); err != nil {
		return "", fmt.Errorf("failed to decompress file: %w", err)
	}
	return outputPath, nil
}
