package store

import "github.com/kjstillabower/weather-dashboard/internal/models"

// DefaultCities are shown when the user has no favorites yet.
func DefaultCities() []models.City {
	return []models.City{
		models.NewCity("New Delhi", "IN", 28.6139, 77.209),
		models.NewCity("London", "GB", 51.5074, -0.1278),
		models.NewCity("New York", "US", 40.7128, -74.006),
		models.NewCity("Tokyo", "JP", 35.6762, 139.6503),
		models.NewCity("Paris", "FR", 48.8566, 2.3522),
	}
}
