// Package domain models 3-hourly city forecasts from the OpenWeatherMap
// /forecast endpoint and the rules that turn them into clean tables.
//
// # Upstream Entries
//
// Each element of the response "list" looks like:
//
//	{
//	  "dt_txt": "2025-01-01 03:00:00",
//	  "main": {"temp": 24.3, "feels_like": 24.9, "humidity": 71, "pressure": 1012},
//	  "wind": {"speed": 2.4, "deg": 120},
//	  "clouds": {"all": 40},
//	  "visibility": 10000,
//	  "weather": [{"description": "mây rải rác"}]
//	}
//
// dt_txt, main.temp, main.humidity, the wind group and a described weather
// entry are mandatory; anything else may be missing. Values arrive in metric
// units (units=metric) except visibility, which is metres and is stored in
// kilometres.
//
// # Validation
//
// Temperature outside [-100, 70] °C and humidity outside [0, 100] % are
// impossible readings and reject the entry at extraction. The cleaning stages
// apply the same limits again after imputation, together with wind speed ≥ 0.
// Pressure has a documented plausible range of [800, 1100] hPa but is never
// used to reject rows.
//
// # Cleaning Stages
//
// [CheckSchema], [Impute], [DropDuplicateTimes], [ParseTimes],
// [RejectOutliers], [RoundValues] and [RenameToDisplay] are pure functions
// over a [Table]. The pipeline package sequences them, adds file I/O, and
// attaches stage names to failures.
//
// # Field Vocabulary
//
// Raw artifacts use the internal identifiers in [RawFields]. Cleaned
// artifacts use Vietnamese display labels from a [FieldMapping], which is
// checked for completeness and uniqueness when it is built.
package domain
