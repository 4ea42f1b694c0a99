package importer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cleared-dev/reconciler/internal/model"
)

// SourceKind tells the caller which reconciliation strategy a layout needs.
type SourceKind string

const (
	// KindDebitCredit sources carry explicit debit and credit columns.
	KindDebitCredit SourceKind = "debit-credit"
	// KindBalanceOnly sources carry only a running balance per row.
	KindBalanceOnly SourceKind = "balance-only"
)

// Options controls row filtering.
type Options struct {
	// Cutoff drops rows dated before it. Zero keeps everything.
	Cutoff time.Time
}

// Result is the uniform row sequence for one source plus diagnostics.
type Result struct {
	Rows      []model.RawRow
	Records   int         // data records examined
	Skipped   int         // unparseable rows
	Filtered  int         // rows before the cutoff
	RowErrors []*RowError // one per skipped row
}

func (r *Result) skip(line int, reason string) {
	r.Skipped++
	r.RowErrors = append(r.RowErrors, &RowError{Line: line, Reason: reason})
}

// RowError describes a single row that was skipped.
type RowError struct {
	Line   int
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Line, e.Reason)
}

// Adapter maps the raw records of one statement layout to RawRows.
type Adapter interface {
	Format() string
	Kind() SourceKind
	Adapt(records [][]string, opts Options) (*Result, error)
}

// Detector is implemented by adapters that can recognise their own header.
type Detector interface {
	Detect(records [][]string) bool
}

// ErrUnknownFormat is returned when no adapter matches a source.
var ErrUnknownFormat = errors.New("unknown statement format")

// Registry holds named adapters.
type Registry struct {
	adapters map[string]Adapter
	order    []string
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter. Panics on duplicate format.
func (r *Registry) Register(a Adapter) {
	key := strings.ToLower(a.Format())
	if _, ok := r.adapters[key]; ok {
		panic("duplicate adapter format: " + key)
	}
	r.adapters[key] = a
	r.order = append(r.order, key)
}

// Alias registers an extra name for an existing format.
func (r *Registry) Alias(alias, format string) {
	a := r.Get(format)
	if a == nil {
		panic("alias for unknown format: " + format)
	}
	key := strings.ToLower(alias)
	if _, ok := r.adapters[key]; ok {
		panic("duplicate adapter format: " + key)
	}
	r.adapters[key] = a
}

// Get returns the adapter for format, or nil.
func (r *Registry) Get(format string) Adapter {
	return r.adapters[strings.ToLower(format)]
}

// Formats returns the registered format names in registration order.
func (r *Registry) Formats() []string {
	return append([]string(nil), r.order...)
}

// Detect returns the first registered adapter whose header signature
// matches records.
func (r *Registry) Detect(records [][]string) (Adapter, error) {
	for _, key := range r.order {
		if d, ok := r.adapters[key].(Detector); ok && d.Detect(records) {
			return r.adapters[key], nil
		}
	}
	return nil, ErrUnknownFormat
}

// DefaultRegistry returns a registry with all built-in layouts. Headered
// layouts are registered first so detection prefers them over the
// positional fallback.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(CRDB())
	r.Register(Selcom())
	r.Register(Ecobank())
	r.Register(StatementText())
	r.Alias("debit-credit-headered", "crdb")
	r.Alias("debit-credit-positional", "ecobank")
	r.Alias("balance-only", "selcom")
	return r
}

// importDir is the subdirectory for statement drops.
const importDir = "import"

// processedDir is the subdirectory for archived statements.
const processedDir = "import/processed"

var importExts = map[string]bool{".csv": true, ".xlsx": true, ".txt": true}

// FileInfo describes a statement file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// Scan returns statement files in <repoRoot>/import/, sorted by name.
func Scan(repoRoot string) ([]FileInfo, error) {
	dir := filepath.Join(repoRoot, importDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || !importExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// MarkProcessed moves a file from import/ to import/processed/.
func MarkProcessed(repoRoot, fileName string) error {
	src := filepath.Join(repoRoot, importDir, fileName)
	dstDir := filepath.Join(repoRoot, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}

// Resolve locates a configured source path. Absolute paths are returned as
// is; relative paths are tried under root, root/import, the parent of root,
// root/server and finally the processed archive.
func Resolve(root, name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("source %s: %w", name, err)
		}
		return name, nil
	}
	candidates := []string{
		filepath.Join(root, name),
		filepath.Join(root, importDir, name),
		filepath.Join(root, "..", name),
		filepath.Join(root, "server", name),
		filepath.Join(root, processedDir, filepath.Base(name)),
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c, nil
		}
	}
	return "", fmt.Errorf("source %s: %w", name, os.ErrNotExist)
}
