package owm

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/couchcryptid/forecast-etl/internal/domain"
)

// FileSource serves a saved forecast response from disk for every query.
// It is used for offline fixture generation and tests.
type FileSource struct {
	path string
}

// NewFileSource creates a source that reads the response at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// FetchForecast reads and decodes the saved response. The query is ignored.
func (s *FileSource) FetchForecast(_ context.Context, _ string) (domain.ForecastResponse, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.ForecastResponse{}, &domain.Error{Kind: domain.KindMissingInput, Op: opFetch, Path: s.path, Index: -1, Msg: "file does not exist"}
	}
	if err != nil {
		return domain.ForecastResponse{}, &domain.Error{Kind: domain.KindStorage, Op: opFetch, Path: s.path, Index: -1, Err: err}
	}
	resp, err := DecodeForecast(data)
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			de.Path = s.path
		}
		return domain.ForecastResponse{}, err
	}
	return resp, nil
}
