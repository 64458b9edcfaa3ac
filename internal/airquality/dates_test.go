package airquality_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/airwatch/internal/airquality"
)

func TestDateFormat_Default(t *testing.T) {
	f, err := airquality.NewDateFormat("")
	require.NoError(t, err)
	assert.Equal(t, "YYYY-MM-DD", f.Pattern())

	got, err := f.Parse("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC), got)
	assert.Equal(t, "2024-02-29", f.Format(got))
}

func TestDateFormat_Rejects(t *testing.T) {
	f := airquality.MustDateFormat(airquality.DefaultDateFormat)

	for _, s := range []string{
		"",
		"2024-1-05",
		"2024/01/05",
		"24-01-05",
		"2024-01-05T00:00:00",
		" 2024-01-05",
		"2023-02-29",
		"2024-13-01",
		"2024-04-31",
	} {
		_, err := f.Parse(s)
		assert.ErrorIs(t, err, airquality.ErrInvalidDate, "%q", s)
	}
}

func TestDateFormat_CustomPattern(t *testing.T) {
	f, err := airquality.NewDateFormat("DD/MM/YYYY")
	require.NoError(t, err)

	got, err := f.Parse("05/01/2024")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.January, 5, 0, 0, 0, 0, time.UTC), got)

	_, err = f.Parse("2024-01-05")
	assert.ErrorIs(t, err, airquality.ErrInvalidDate)
}

func TestNewDateFormat_InvalidPatterns(t *testing.T) {
	for _, p := range []string{"YYYY-MM", "YYYY-MM-DD-DD", "YYYY-M-DD", "YY-MM-DD"} {
		_, err := airquality.NewDateFormat(p)
		assert.Error(t, err, p)
	}
}
