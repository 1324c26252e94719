package archive

import (
	"bytes"
	"context"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

const parquetContentType = "application/vnd.apache.parquet"

// ParquetEncoder writes rows of T as a single parquet file.
type ParquetEncoder[T any] struct {
	// Compression: "" or "none", "snappy", "gzip", "zstd".
	Compression string
}

func (e ParquetEncoder[T]) FileExtension() string { return ".parquet" }

func (e ParquetEncoder[T]) Encode(ctx context.Context, rows []T) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	opts, err := compressionOptions(e.Compression)
	if err != nil {
		return nil, "", err
	}

	var out bytes.Buffer
	w := parquet.NewGenericWriter[T](&out, opts...)
	if _, err := w.Write(rows); err != nil {
		_ = w.Close()
		return nil, "", fmt.Errorf("write parquet rows: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close parquet writer: %w", err)
	}
	return out.Bytes(), parquetContentType, nil
}

func compressionOptions(name string) ([]parquet.WriterOption, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "snappy":
		return []parquet.WriterOption{parquet.Compression(&parquet.Snappy)}, nil
	case "gzip":
		return []parquet.WriterOption{parquet.Compression(&parquet.Gzip)}, nil
	case "zstd":
		return []parquet.WriterOption{parquet.Compression(&parquet.Zstd)}, nil
	default:
		return nil, fmt.Errorf("unsupported parquet compression: %q", name)
	}
}
