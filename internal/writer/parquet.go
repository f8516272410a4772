package writer

import (
	"bytes"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	pqwriter "github.com/xitongsys/parquet-go/writer"

	"optionflow/internal/models"
)

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, io.EOF }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// chainRecord defines the parquet schema for flattened option chain rows.
type chainRecord struct {
	Index      string  `parquet:"name=index, type=BYTE_ARRAY, convertedtype=UTF8"`
	Expiry     string  `parquet:"name=expiry, type=BYTE_ARRAY, convertedtype=UTF8"`
	Strike     int64   `parquet:"name=strike, type=INT64"`
	OptionType string  `parquet:"name=option_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	LTP        float64 `parquet:"name=ltp, type=DOUBLE"`
	Bid        float64 `parquet:"name=bid, type=DOUBLE"`
	Ask        float64 `parquet:"name=ask, type=DOUBLE"`
	OI         int64   `parquet:"name=oi, type=INT64"`
	Volume     int64   `parquet:"name=volume, type=INT64"`
	IV         float64 `parquet:"name=iv, type=DOUBLE"`
	Spot       float64 `parquet:"name=spot, type=DOUBLE"`
	Timestamp  int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	CycleNum   int64   `parquet:"name=cycle_num, type=INT64"`
}

// spotRecord defines the parquet schema for index spot observations.
type spotRecord struct {
	Index     string  `parquet:"name=index, type=BYTE_ARRAY, convertedtype=UTF8"`
	LastPrice float64 `parquet:"name=last_price, type=DOUBLE"`
	Source    string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Stale     bool    `parquet:"name=stale, type=BOOLEAN"`
	Timestamp int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	CycleNum  int64   `parquet:"name=cycle_num, type=INT64"`
}

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "lzo":
		return parquet.CompressionCodec_LZO
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

// writeChainRecords encodes chain rows into fw. The caller owns fw and closes
// it after the encode completes.
func writeChainRecords(fw source.ParquetFile, rows []models.ChainRow, codec parquet.CompressionCodec) error {
	pw, err := pqwriter.NewParquetWriter(fw, new(chainRecord), 1)
	if err != nil {
		return err
	}
	pw.CompressionType = codec

	for _, row := range rows {
		rec := chainRecord{
			Index:      row.Index,
			Expiry:     row.Expiry,
			Strike:     row.Strike,
			OptionType: row.OptionType,
			LTP:        row.LTP,
			Bid:        row.Bid,
			Ask:        row.Ask,
			OI:         row.OI,
			Volume:     row.Volume,
			IV:         row.IV,
			Spot:       row.Spot,
			Timestamp:  row.Timestamp.UTC().UnixMilli(),
			CycleNum:   int64(row.CycleNum),
		}
		if err := pw.Write(rec); err != nil {
			return err
		}
	}

	return pw.WriteStop()
}

func writeSpotRecords(fw source.ParquetFile, rows []models.SpotRow, codec parquet.CompressionCodec) error {
	pw, err := pqwriter.NewParquetWriter(fw, new(spotRecord), 1)
	if err != nil {
		return err
	}
	pw.CompressionType = codec

	for _, row := range rows {
		rec := spotRecord{
			Index:     row.Index,
			LastPrice: row.LastPrice,
			Source:    row.Source,
			Stale:     row.Stale,
			Timestamp: row.Timestamp.UTC().UnixMilli(),
			CycleNum:  int64(row.CycleNum),
		}
		if err := pw.Write(rec); err != nil {
			return err
		}
	}

	return pw.WriteStop()
}
