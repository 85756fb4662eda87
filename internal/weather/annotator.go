package weather

import (
	"context"
	"errors"
	"sync"

	appLog "smartcal/internal/log"
	"smartcal/internal/model"
)

// ErrNoPosition is returned by a Locator that has nothing to report,
// e.g. the user denied location access.
var ErrNoPosition = errors.New("weather: position unavailable")

// Locator supplies the device position.
type Locator interface {
	Locate(ctx context.Context) (lat, lon float64, err error)
}

// Position is a Locator with a fixed, already known coordinate.
type Position struct {
	Lat, Lon float64
}

func (p Position) Locate(context.Context) (float64, float64, error) {
	return p.Lat, p.Lon, nil
}

// NoPosition always reports ErrNoPosition.
type NoPosition struct{}

func (NoPosition) Locate(context.Context) (float64, float64, error) {
	return 0, 0, ErrNoPosition
}

// Annotator loads the forecast for one view. Load runs the locate+fetch
// sequence at most once; later calls return the first result.
type Annotator struct {
	forecaster Forecaster
	locator    Locator

	once    sync.Once
	samples map[string]model.WeatherSample
}

func NewAnnotator(f Forecaster, l Locator) *Annotator {
	if l == nil {
		l = NoPosition{}
	}
	return &Annotator{forecaster: f, locator: l}
}

func (a *Annotator) Load(ctx context.Context) map[string]model.WeatherSample {
	a.once.Do(func() {
		a.samples = map[string]model.WeatherSample{}
		lat, lon, err := a.locator.Locate(ctx)
		if err != nil {
			appLog.Debug("weather: no position", "err", err)
			return
		}
		if a.forecaster == nil {
			return
		}
		if s := a.forecaster.Forecast(ctx, lat, lon); s != nil {
			a.samples = s
		}
	})
	return a.samples
}
