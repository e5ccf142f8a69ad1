package csvstore

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/couchcryptid/forecast-etl/internal/domain"
	"go.uber.org/zap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Store persists per-city raw and cleaned tables as CSV files under a data
// directory. Writes replace the previous file atomically.
type Store struct {
	dir     string
	mapping *domain.FieldMapping
	logger  *zap.Logger
}

// New creates a Store rooted at dir.
func New(dir string, mapping *domain.FieldMapping, logger *zap.Logger) *Store {
	return &Store{dir: dir, mapping: mapping, logger: logger}
}

// Path resolves the artifact path for city.
func (s *Store) Path(city string, kind Artifact) (string, error) {
	p, err := Path(s.dir, city, kind)
	if err != nil {
		return "", &domain.Error{Kind: domain.KindStorage, Op: "path", City: city, Index: -1, Err: err}
	}
	return p, nil
}

// Exists reports whether the artifact for city is present.
func (s *Store) Exists(city string, kind Artifact) bool {
	p, err := s.Path(city, kind)
	if err != nil {
		return false
	}
	_, err = os.Stat(p)
	return err == nil
}

// WriteRaw replaces the raw artifact for city with t. Returns the path written.
func (s *Store) WriteRaw(city string, t *domain.Table) (string, error) {
	p, err := s.Path(city, ArtifactRaw)
	if err != nil {
		return "", err
	}
	return p, s.write(p, t.Names(), t.Rows())
}

// WriteCleaned replaces the cleaned artifact for city with a display-named table.
func (s *Store) WriteCleaned(city string, t *domain.Table) (string, error) {
	p, err := s.Path(city, ArtifactCleaned)
	if err != nil {
		return "", err
	}
	return p, s.write(p, t.Names(), t.Rows())
}

// ReadRaw loads the raw artifact for city with internal column names.
func (s *Store) ReadRaw(city string) (*domain.Table, string, error) {
	p, err := s.Path(city, ArtifactRaw)
	if err != nil {
		return nil, "", err
	}
	header, rows, err := s.read(p)
	if err != nil {
		return nil, p, err
	}
	t, err := domain.ParseTable(header, rows)
	if err != nil {
		return nil, p, &domain.Error{Kind: domain.KindMalformedInput, Op: "load", Path: p, Index: -1, Err: err}
	}
	return t, p, nil
}

// ReadCleaned loads the cleaned artifact for city and maps its display
// labels back to internal names, with the time column parsed.
func (s *Store) ReadCleaned(city string) (*domain.Table, error) {
	p, err := s.Path(city, ArtifactCleaned)
	if err != nil {
		return nil, err
	}
	header, rows, err := s.read(p)
	if err != nil {
		return nil, err
	}
	t, err := domain.ParseTable(s.mapping.ToInternalAll(header), rows)
	if err != nil {
		return nil, &domain.Error{Kind: domain.KindMalformedInput, Op: "load", Path: p, Index: -1, Err: err}
	}
	if err := domain.ParseTimes(t); err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			de.Path = p
		}
		return nil, err
	}
	return t, nil
}

func (s *Store) read(path string) ([]string, [][]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, &domain.Error{Kind: domain.KindMissingInput, Op: "exists", Path: path, Index: -1, Msg: "file does not exist"}
	}
	if err != nil {
		return nil, nil, &domain.Error{Kind: domain.KindStorage, Op: "load", Path: path, Index: -1, Err: err}
	}

	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, &domain.Error{Kind: domain.KindMalformedInput, Op: "load", Path: path, Index: -1, Err: err}
	}
	if len(records) == 0 {
		return nil, nil, &domain.Error{Kind: domain.KindMalformedInput, Op: "load", Path: path, Index: -1, Msg: "file has no header"}
	}
	return records[0], records[1:], nil
}

// write encodes to a temp file in the target directory and renames it over
// path, so readers never observe a partial file.
func (s *Store) write(path string, header []string, rows [][]string) (err error) {
	fail := func(step string, cause error) error {
		return &domain.Error{Kind: domain.KindStorage, Op: "persist", Path: path, Index: -1, Msg: step + " failed", Err: cause}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fail("mkdir", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fail("create", err)
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup of the temp file
		}
	}()

	if err := encode(tmp, header, rows); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fail("write", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close() //nolint:errcheck // already failing
		return fail("chmod", err)
	}
	if err := tmp.Close(); err != nil {
		return fail("close", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fail("rename", err)
	}
	s.logger.Debug("csv written", zap.String("path", path), zap.Int("rows", len(rows)))
	return nil
}

func encode(w io.Writer, header []string, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}
