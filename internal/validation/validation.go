// Package validation checks user input before it reaches the service layer.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// ErrQueryTooShort is returned when a search query has fewer than the
// minimum runes after trimming. Callers answer it with an empty result.
var ErrQueryTooShort = errors.New("query too short")

// ErrQueryTooLong is returned when a search query exceeds the maximum length.
var ErrQueryTooLong = errors.New("query too long")

// ErrQueryInvalidChars is returned when a query contains control characters.
var ErrQueryInvalidChars = errors.New("query contains control characters")

// ErrInvalidCity is returned when a City fails field validation.
var ErrInvalidCity = errors.New("invalid city")

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateQuery trims input and enforces length bounds in runes. Any
// printable character is accepted; the client escapes the query upstream.
// It returns the trimmed query.
func ValidateQuery(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n < minLen || n == 0 {
		return "", ErrQueryTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrQueryTooLong
	}
	if strings.IndexFunc(s, unicode.IsControl) >= 0 {
		return "", ErrQueryInvalidChars
	}
	return s, nil
}

// ValidateCity checks a City's name and coordinate bounds and that its ID,
// when set, matches its coordinates.
func ValidateCity(c models.City) error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s", ErrInvalidCity, strings.ToLower(fe.Field()), fe.Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidCity, err)
	}
	if c.ID != "" && c.ID != models.CityID(c.Lat, c.Lon) {
		return fmt.Errorf("%w: id %q does not match coordinates", ErrInvalidCity, c.ID)
	}
	return nil
}
