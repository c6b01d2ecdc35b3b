package ledger

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Export formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// Header is the fixed export column order.
var Header = []string{
	"attempt_id",
	"timestamp",
	"network",
	"recipient_address",
	"recipient_private_key",
	"tx_identifier",
	"status",
	"gas_used",
	"error",
}

// WriteCSV writes attempts with the fixed header.
func WriteCSV(w io.Writer, attempts []Attempt) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("ledger: write csv header: %w", err)
	}
	for _, a := range attempts {
		record := []string{
			a.AttemptID,
			a.Timestamp.UTC().Format(time.RFC3339Nano),
			a.Network,
			a.RecipientAddress,
			a.RecipientPrivateKey,
			deref(a.TxIdentifier),
			a.Status,
			gasString(a.GasUsed),
			deref(a.Error),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("ledger: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("ledger: flush csv: %w", err)
	}
	return nil
}

// EncodeCSV renders attempts as CSV bytes.
func EncodeCSV(attempts []Attempt) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, attempts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type parquetRow struct {
	AttemptID           string  `parquet:"name=attempt_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp           string  `parquet:"name=timestamp, type=BYTE_ARRAY, convertedtype=UTF8"`
	Network             string  `parquet:"name=network, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecipientAddress    string  `parquet:"name=recipient_address, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecipientPrivateKey string  `parquet:"name=recipient_private_key, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxIdentifier        *string `parquet:"name=tx_identifier, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Status              string  `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasUsed             *int64  `parquet:"name=gas_used, type=INT64, repetitiontype=OPTIONAL"`
	Error               *string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
}

// EncodeParquet renders attempts as a snappy compressed parquet file.
func EncodeParquet(attempts []Attempt) ([]byte, error) {
	var buf bytes.Buffer
	fw := writerfile.NewWriterFile(&buf)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		return nil, fmt.Errorf("ledger: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for _, a := range attempts {
		row := &parquetRow{
			AttemptID:           a.AttemptID,
			Timestamp:           a.Timestamp.UTC().Format(time.RFC3339Nano),
			Network:             a.Network,
			RecipientAddress:    a.RecipientAddress,
			RecipientPrivateKey: a.RecipientPrivateKey,
			TxIdentifier:        a.TxIdentifier,
			Status:              a.Status,
			GasUsed:             a.GasUsed,
			Error:               a.Error,
		}
		if err := pw.Write(row); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("ledger: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("ledger: parquet flush: %w", err)
	}
	return buf.Bytes(), nil
}

// Encode renders attempts in the requested format and returns the content type.
func Encode(format string, attempts []Attempt) ([]byte, string, error) {
	switch format {
	case "", FormatCSV:
		payload, err := EncodeCSV(attempts)
		return payload, "text/csv", err
	case FormatParquet:
		payload, err := EncodeParquet(attempts)
		return payload, "application/vnd.apache.parquet", err
	default:
		return nil, "", fmt.Errorf("ledger: unknown export format %q", format)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func gasString(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
