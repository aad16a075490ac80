package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// baseColumns are written for every event ahead of its own decoded
// arguments, in this fixed order, so every CSV file for a given
// contract+event pair has a stable schema regardless of which argument
// combination a particular log happened to carry.
var baseColumns = []string{"block_number", "tx_hash", "tx_from", "chain_id", "timestamp"}

// csvFile wraps an opened CSV file with its writer and the column order
// (base columns + sorted argument names) fixed at first write.
type csvFile struct {
	file    *os.File
	writer  *csv.Writer
	argCols []string
}

// CSVSink persists decoded chain events into per contract+event CSV files.
// It creates one file per unique "<contract_name>_<event_name>" pair in the
// configured output directory. The first time an event is seen the sink
// fixes the column order as baseColumns followed by that event's argument
// names (sorted alphabetically for determinism) and, if the file does not
// exist yet, writes them as a header row; an existing file is appended to
// without a new header. Every subsequent row follows that same column
// order, leaving missing argument cells blank.
type CSVSink struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*csvFile
}

// NewCSVSink initialises a sink that writes CSV files under the given
// directory, creating the directory tree if it doesn't already exist.
func NewCSVSink(outputDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create csv output directory: %w", err)
	}

	return &CSVSink{
		outputDir: outputDir,
		files:     make(map[string]*csvFile),
	}, nil
}

// Write appends evt as a CSV row, lazily creating the file for its
// contract+event pair.
func (s *CSVSink) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := evt.EventName
	if name == "" {
		name = "unknown"
	}
	contractName := evt.ContractName
	if contractName == "" {
		contractName = "unknown"
	}
	key := contractName + "_" + name

	cf, ok := s.files[key]
	if !ok {
		fp := filepath.Join(s.outputDir, fmt.Sprintf("%s.csv", key))

		_, statErr := os.Stat(fp)
		exists := !os.IsNotExist(statErr)

		f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open csv file %s: %w", fp, err)
		}

		w := csv.NewWriter(f)
		argCols := sortedArgNames(evt.Args)

		if !exists {
			if err := w.Write(append(append([]string{}, baseColumns...), argCols...)); err != nil {
				f.Close()
				return fmt.Errorf("failed to write csv header for %s: %w", fp, err)
			}
			w.Flush()
			if err := w.Error(); err != nil {
				f.Close()
				return fmt.Errorf("failed to flush csv header for %s: %w", fp, err)
			}
		}

		cf = &csvFile{file: f, writer: w, argCols: argCols}
		s.files[key] = cf
	}

	row := make([]string, 0, len(baseColumns)+len(cf.argCols))
	row = append(row,
		strconv.FormatUint(evt.BlockNumber, 10),
		evt.TxHash,
		evt.TxFrom,
		evt.ChainID,
		strconv.FormatUint(evt.Timestamp, 10),
	)
	for _, col := range cf.argCols {
		if v, ok := evt.Args[col]; ok {
			row = append(row, fmt.Sprint(v))
		} else {
			row = append(row, "")
		}
	}

	if err := cf.writer.Write(row); err != nil {
		return err
	}
	cf.writer.Flush()
	return cf.writer.Error()
}

// sortedArgNames returns a deterministic, alphabetically-sorted slice of
// argument names, used as the trailing CSV columns.
func sortedArgNames(args map[string]interface{}) []string {
	names := make([]string, 0, len(args))
	for k := range args {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
