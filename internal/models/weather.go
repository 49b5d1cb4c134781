package models

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// WeatherCondition is one entry of the OpenWeatherMap "weather" array.
type WeatherCondition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// MainWeather holds temperatures (Celsius), pressure and humidity.
type MainWeather struct {
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  float64 `json:"pressure"`
	Humidity  float64 `json:"humidity"`
}

// Wind speed is served in km/h.
type Wind struct {
	Speed float64  `json:"speed"`
	Deg   float64  `json:"deg"`
	Gust  *float64 `json:"gust,omitempty"`
}

type Clouds struct {
	All int `json:"all"`
}

type WeatherSys struct {
	Type    int    `json:"type,omitempty"`
	ID      int    `json:"id,omitempty"`
	Country string `json:"country"`
	Sunrise int64  `json:"sunrise"`
	Sunset  int64  `json:"sunset"`
}

// Weather mirrors the OpenWeatherMap current-weather document served to the
// weather cards.
type Weather struct {
	Coord      Coordinates        `json:"coord"`
	Weather    []WeatherCondition `json:"weather"`
	Base       string             `json:"base"`
	Main       MainWeather        `json:"main"`
	Visibility int                `json:"visibility"`
	Wind       Wind               `json:"wind"`
	Clouds     Clouds             `json:"clouds"`
	Dt         int64              `json:"dt"`
	Sys        WeatherSys         `json:"sys"`
	Timezone   int                `json:"timezone"`
	ID         int                `json:"id"`
	Name       string             `json:"name"`
	Cod        int                `json:"cod"`
}

// City is a city shown on the weather grid.
type City struct {
	ID          int
	Name        string
	NameArabic  string
	Coordinates Coordinates
	Priority    int
}

// IraqiCities lists the weather grid cities in display order, with their
// OpenWeatherMap city ids.
var IraqiCities = []City{
	{ID: 98182, Name: "Baghdad", NameArabic: "بغداد", Coordinates: Coordinates{Lat: 33.3406, Lon: 44.4009}, Priority: 1},
	{ID: 99532, Name: "Basrah", NameArabic: "البصرة", Coordinates: Coordinates{Lat: 30.5086, Lon: 47.7834}, Priority: 2},
	{ID: 99072, Name: "Mosul", NameArabic: "الموصل", Coordinates: Coordinates{Lat: 36.3350, Lon: 43.1189}, Priority: 3},
	{ID: 95446, Name: "Erbil", NameArabic: "أربيل", Coordinates: Coordinates{Lat: 36.1926, Lon: 44.0106}, Priority: 4},
	{ID: 98860, Name: "Najaf", NameArabic: "النجف", Coordinates: Coordinates{Lat: 32.0000, Lon: 44.3333}, Priority: 5},
	{ID: 94824, Name: "Karbala", NameArabic: "كربلاء", Coordinates: Coordinates{Lat: 32.6157, Lon: 44.0242}, Priority: 6},
	{ID: 98465, Name: "Sulaymaniyah", NameArabic: "السليمانية", Coordinates: Coordinates{Lat: 35.5606, Lon: 45.4329}, Priority: 7},
	{ID: 94787, Name: "Kirkuk", NameArabic: "كركوك", Coordinates: Coordinates{Lat: 35.4681, Lon: 44.3922}, Priority: 8},
}

// ArabicCityName returns the Arabic display name for an OpenWeatherMap city id.
func ArabicCityName(id int) string {
	for _, c := range IraqiCities {
		if c.ID == id {
			return c.NameArabic
		}
	}
	return ""
}
