package writer

import (
	"bytes"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go/parquet"

	"optionflow/internal/models"
)

func TestCompressionCodecMapping(t *testing.T) {
	cases := []struct {
		name string
		want parquet.CompressionCodec
	}{
		{"snappy", parquet.CompressionCodec_SNAPPY},
		{"gzip", parquet.CompressionCodec_GZIP},
		{"lzo", parquet.CompressionCodec_LZO},
		{"uncompressed", parquet.CompressionCodec_UNCOMPRESSED},
		{"", parquet.CompressionCodec_UNCOMPRESSED},
		{"zstd", parquet.CompressionCodec_UNCOMPRESSED},
	}
	for _, tc := range cases {
		if got := compressionCodec(tc.name); got != tc.want {
			t.Errorf("compressionCodec(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWriteChainRecordsProducesParquet(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC)
	mf := newMemFile()
	if err := writeChainRecords(mf, testChainRows(ts, 6), parquet.CompressionCodec_SNAPPY); err != nil {
		t.Fatalf("writeChainRecords: %v", err)
	}
	data := mf.Bytes()
	if len(data) == 0 {
		t.Fatal("expected parquet bytes, got none")
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatal("encoded data is missing the parquet magic bytes")
	}
}

func TestWriteSpotRecordsProducesParquet(t *testing.T) {
	ts := time.Date(2026, 8, 24, 10, 15, 0, 0, time.UTC)
	rows := []models.SpotRow{
		{Index: "NIFTY", LastPrice: 24810.25, Source: "DIRECT", Timestamp: ts, CycleNum: 1},
		{Index: "NIFTY", LastPrice: 24811.10, Source: "CACHE", Stale: true, Timestamp: ts.Add(time.Minute), CycleNum: 2},
	}
	mf := newMemFile()
	if err := writeSpotRecords(mf, rows, parquet.CompressionCodec_UNCOMPRESSED); err != nil {
		t.Fatalf("writeSpotRecords: %v", err)
	}
	data := mf.Bytes()
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatal("encoded data is missing the parquet magic bytes")
	}
}
