package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/reviewharvest/models"
)

var (
	productHeader = []string{"ident_code", "name", "base_price", "final_price", "inventory_status"}
	reviewHeader  = []string{"author", "content", "rating", "title", "review_date", "verified_purchase", "helpful_text"}
)

// ProductPath returns where the product file of id lands under dir.
func ProductPath(dir, timestamp, source, id string) string {
	return filepath.Join(dir, "products", source, fmt.Sprintf("%s_%s_product_%s.csv", timestamp, source, id))
}

// ReviewsPath returns where the reviews file of id lands under dir.
func ReviewsPath(dir, timestamp, source, id string) string {
	return filepath.Join(dir, "reviews", source, fmt.Sprintf("%s_%s_reviews_%s.csv", timestamp, source, id))
}

// CSVWriter writes one product file and one reviews file per identifier.
type CSVWriter struct {
	dir       string
	timestamp string

	mu      sync.Mutex
	written int
}

// NewCSVWriter writes under dir, labelling files with timestamp.
func NewCSVWriter(dir, timestamp string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %q: %w", dir, err)
	}
	return &CSVWriter{dir: dir, timestamp: timestamp}, nil
}

// Write creates the files for every harvest. A harvest with no reviews still
// gets a reviews file holding only the header.
func (cw *CSVWriter) Write(items []*models.Harvest) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, item := range items {
		productPath := ProductPath(cw.dir, cw.timestamp, item.Source, item.Identifier)
		if err := writeCSVFile(productPath, func(w io.Writer) error { return encodeProduct(w, item.Product) }); err != nil {
			return err
		}
		reviewsPath := ReviewsPath(cw.dir, cw.timestamp, item.Source, item.Identifier)
		if err := writeCSVFile(reviewsPath, func(w io.Writer) error { return encodeReviews(w, item.Reviews) }); err != nil {
			return err
		}
		cw.written++
	}
	return nil
}

// Close is a no-op; each file is closed as soon as it is written.
func (cw *CSVWriter) Close() error {
	return nil
}

// Validate ensures at least one identifier was written.
func (cw *CSVWriter) Validate() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.written == 0 {
		return fmt.Errorf("no csv files written")
	}
	return nil
}

func writeCSVFile(path string, encode func(io.Writer) error) (err error) {
	if err := ensureDir(path); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv file: %w", cerr)
		}
	}()
	if err := encode(f); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}

func encodeProduct(w io.Writer, p models.Product) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(productHeader); err != nil {
		return err
	}
	record := []string{
		p.IdentifierCode,
		p.Name,
		formatPrice(p.BasePrice),
		formatPrice(p.FinalPrice),
		p.InventoryStatus,
	}
	if err := writer.Write(record); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func encodeReviews(w io.Writer, reviews []models.Review) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(reviewHeader); err != nil {
		return err
	}
	for _, r := range reviews {
		record := []string{
			r.Author,
			r.Content,
			strconv.FormatFloat(r.Rating, 'f', 1, 64),
			r.Title,
			r.ReviewDate,
			strconv.FormatBool(r.VerifiedPurchase),
			r.HelpfulText,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// JSONWriter writes newline-delimited JSON records, one harvest per line.
type JSONWriter struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends harvests in JSONL format.
func (jw *JSONWriter) Write(items []*models.Harvest) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, item := range items {
		if err := jw.encoder.Encode(item); err != nil {
			return fmt.Errorf("encode json record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}

	return nil
}

// Close flushes buffers and closes the underlying file.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Close()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	info, err := os.Stat(jw.file.Name())
	if err != nil {
		return fmt.Errorf("stat json file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("json file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
