package upstream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"broadcast-graphics/onair/internal/models"
)

const (
	MaxWeatherCities = 8

	weatherConcurrency = 4
	iraqUTCOffset      = 3 * 3600
)

// ErrNoWeatherKey is returned when no OpenWeatherMap key is configured.
var ErrNoWeatherKey = errors.New("weather api key is not configured")

type oneCallCurrent struct {
	Temp      float64                   `json:"temp"`
	FeelsLike float64                   `json:"feels_like"`
	Pressure  float64                   `json:"pressure"`
	Humidity  float64                   `json:"humidity"`
	WindSpeed float64                   `json:"wind_speed"`
	WindDeg   float64                   `json:"wind_deg"`
	Weather   []models.WeatherCondition `json:"weather"`
}

type oneCallDaily struct {
	Temp struct {
		Min float64 `json:"min"`
		Max float64 `json:"max"`
	} `json:"temp"`
}

type oneCallResponse struct {
	Current oneCallCurrent `json:"current"`
	Daily   []oneCallDaily `json:"daily"`
}

// WeatherClient reads OpenWeatherMap for the weather grid.
type WeatherClient struct {
	client  *Client
	baseURL string
	apiKey  string
	logger  zerolog.Logger
	now     func() time.Time
}

func NewWeatherClient(client *Client, baseURL, apiKey string, logger zerolog.Logger) *WeatherClient {
	return &WeatherClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
		now:     time.Now,
	}
}

func (w *WeatherClient) endpoint(path string, q url.Values) string {
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")
	q.Set("lang", "ar")
	return w.baseURL + path + "?" + q.Encode()
}

// City returns the current weather of one city looked up by name.
func (w *WeatherClient) City(ctx context.Context, name string) (models.Weather, error) {
	if w.apiKey == "" {
		return models.Weather{}, ErrNoWeatherKey
	}

	var data models.Weather
	u := w.endpoint("/data/2.5/weather", url.Values{"q": {name + ",IQ"}})
	if err := w.client.GetJSON(ctx, u, nil, &data); err != nil {
		return models.Weather{}, fmt.Errorf("error fetching weather for %s: %w", name, err)
	}
	return roundWeather(data), nil
}

// Grid returns the weather of the first limit cities, in display order. A
// city whose lookups fail gets synthetic data; the returned error is only
// non-nil when no city could be fetched at all.
func (w *WeatherClient) Grid(ctx context.Context, limit int) ([]models.Weather, error) {
	if w.apiKey == "" {
		return nil, ErrNoWeatherKey
	}
	if limit <= 0 || limit > MaxWeatherCities {
		limit = MaxWeatherCities
	}
	cities := models.IraqiCities[:min(limit, len(models.IraqiCities))]

	out := make([]models.Weather, len(cities))
	failed := make([]bool, len(cities))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(weatherConcurrency)

	for i, city := range cities {
		g.Go(func() error {
			data, err := w.cityWeather(gctx, city)
			if err != nil {
				w.logger.Warn().Err(err).Str("city", city.Name).Msg("Failed to fetch weather, using fallback")
				out[i] = CityFallback(city, w.now())
				failed[i] = true
				return nil
			}
			out[i] = data
			return nil
		})
	}
	_ = g.Wait()

	for _, f := range failed {
		if !f {
			return out, nil
		}
	}
	return out, errors.New("weather unavailable for every city")
}

// cityWeather merges One Call daily min/max with the current weather
// document, falling back to the current weather alone.
func (w *WeatherClient) cityWeather(ctx context.Context, city models.City) (models.Weather, error) {
	id := strconv.Itoa(city.ID)

	var oc oneCallResponse
	ocURL := w.endpoint("/data/3.0/onecall", url.Values{
		"lat":     {strconv.FormatFloat(city.Coordinates.Lat, 'f', -1, 64)},
		"lon":     {strconv.FormatFloat(city.Coordinates.Lon, 'f', -1, 64)},
		"exclude": {"minutely,hourly,alerts"},
	})
	ocErr := w.client.GetJSON(ctx, ocURL, nil, &oc)

	var current models.Weather
	if err := w.client.GetJSON(ctx, w.endpoint("/data/2.5/weather", url.Values{"id": {id}}), nil, &current); err != nil {
		return models.Weather{}, err
	}

	if ocErr != nil || len(oc.Daily) == 0 {
		if ocErr != nil {
			w.logger.Debug().Err(ocErr).Str("city", city.Name).Msg("one call failed, using current weather")
		}
		return roundWeather(current), nil
	}

	merged := current
	merged.Main.Temp = math.Round(oc.Current.Temp)
	merged.Main.FeelsLike = math.Round(oc.Current.FeelsLike)
	merged.Main.TempMin = math.Round(oc.Daily[0].Temp.Min)
	merged.Main.TempMax = math.Round(oc.Daily[0].Temp.Max)
	merged.Main.Humidity = oc.Current.Humidity
	merged.Main.Pressure = oc.Current.Pressure
	merged.Wind = models.Wind{
		Speed: msToKmh(oc.Current.WindSpeed),
		Deg:   oc.Current.WindDeg,
	}
	if len(oc.Current.Weather) > 0 {
		merged.Weather = oc.Current.Weather
	}
	return merged, nil
}

func roundWeather(w models.Weather) models.Weather {
	w.Main.Temp = math.Round(w.Main.Temp)
	w.Main.FeelsLike = math.Round(w.Main.FeelsLike)
	w.Main.TempMin = math.Round(w.Main.TempMin)
	w.Main.TempMax = math.Round(w.Main.TempMax)
	w.Wind.Speed = msToKmh(w.Wind.Speed)
	return w
}

func msToKmh(ms float64) float64 {
	return math.Round(ms * 3.6)
}

var clearSky = models.WeatherCondition{ID: 800, Main: "Clear", Description: "clear sky", Icon: "01d"}

// CityFallback is the synthetic weather shown for a city that could not be fetched.
func CityFallback(city models.City, now time.Time) models.Weather {
	ts := now.Unix()
	return models.Weather{
		Coord:   city.Coordinates,
		Weather: []models.WeatherCondition{clearSky},
		Base:    "stations",
		Main: models.MainWeather{
			Temp:      30,
			FeelsLike: 32,
			TempMin:   27,
			TempMax:   33,
			Pressure:  1013,
			Humidity:  60,
		},
		Visibility: 10000,
		Wind:       models.Wind{Speed: 15, Deg: 180},
		Clouds:     models.Clouds{All: 20},
		Dt:         ts,
		Sys: models.WeatherSys{
			Country: "IQ",
			Sunrise: ts - 6*3600,
			Sunset:  ts + 6*3600,
		},
		Timezone: iraqUTCOffset,
		ID:       city.ID,
		Name:     city.Name,
		Cod:      200,
	}
}

var (
	fallbackTemps      = []float64{32, 28, 30, 26, 31, 29, 27, 25}
	fallbackConditions = []models.WeatherCondition{
		clearSky,
		{ID: 801, Main: "Clouds", Description: "few clouds", Icon: "02d"},
		{ID: 802, Main: "Clouds", Description: "scattered clouds", Icon: "03d"},
		clearSky,
	}
)

// GridFallback is the whole weather grid served when OpenWeatherMap is unusable.
func GridFallback(now time.Time) []models.Weather {
	ts := now.Unix()
	cities := models.IraqiCities[:min(MaxWeatherCities, len(models.IraqiCities))]

	out := make([]models.Weather, 0, len(cities))
	for i, city := range cities {
		temp := fallbackTemps[i%len(fallbackTemps)]
		out = append(out, models.Weather{
			Coord:   city.Coordinates,
			Weather: []models.WeatherCondition{fallbackConditions[i%len(fallbackConditions)]},
			Base:    "stations",
			Main: models.MainWeather{
				Temp:      temp,
				FeelsLike: temp + 2,
				TempMin:   temp - 3,
				TempMax:   temp + 3,
				Pressure:  float64(1013 + (i-4)*2),
				Humidity:  float64(max(30, 70-i*5)),
			},
			Visibility: 10000,
			Wind:       models.Wind{Speed: float64(10 + i), Deg: float64(180 + i*30)},
			Clouds:     models.Clouds{All: i * 10},
			Dt:         ts,
			Sys: models.WeatherSys{
				Country: "IQ",
				Sunrise: ts - 6*3600,
				Sunset:  ts + 6*3600,
			},
			Timezone: iraqUTCOffset,
			ID:       city.ID,
			Name:     city.Name,
			Cod:      200,
		})
	}
	return out
}
