package domain

import "context"

// ForecastSource fetches the 5-day / 3-hour forecast for an upstream query
// string. Implementations return *Error values carrying the failure kind.
type ForecastSource interface {
	FetchForecast(ctx context.Context, query string) (ForecastResponse, error)
}
