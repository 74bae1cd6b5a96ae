// Package sun computes sunrise and sunset times for sun-based rule
// triggers and conditions, using the NOAA solar position approximation.
// Accuracy is within a couple of minutes at temperate latitudes, which
// is ample for home automation.
package sun

import (
	"errors"
	"math"
	"time"
)

// Errors for latitudes/dates where the sun does not rise or set.
var (
	// ErrPolarDay is returned when the sun never sets on the given date.
	ErrPolarDay = errors.New("sun: polar day, sun never sets")

	// ErrPolarNight is returned when the sun never rises on the given date.
	ErrPolarNight = errors.New("sun: polar night, sun never rises")
)

const (
	degToRad = math.Pi / 180
	radToDeg = 180 / math.Pi

	// j2000 is the Julian date of the J2000 epoch.
	j2000 = 2451545.0

	// unixEpochJulian is the Julian date of the Unix epoch.
	unixEpochJulian = 2440587.5

	// officialZenithSin is sin(-0.833°): sunrise/sunset corrected for
	// atmospheric refraction and the solar disc radius.
	officialZenithSin = -0.01454389765
)

// Times returns sunrise and sunset for the calendar date of t at the
// given coordinates, in t's location.
func Times(t time.Time, latitude, longitude float64) (sunrise, sunset time.Time, err error) {
	loc := t.Location()

	// Work from local solar noon of the given calendar day.
	noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
	jd := float64(noon.Unix())/86400.0 + unixEpochJulian

	n := math.Round(jd - j2000 + 0.0008 - longitude/360)

	// Mean solar time, solar mean anomaly, equation of the center.
	jStar := n + 0.0008 - longitude/360
	meanAnomaly := math.Mod(357.5291+0.98560028*jStar, 360)
	mRad := meanAnomaly * degToRad
	center := 1.9148*math.Sin(mRad) + 0.02*math.Sin(2*mRad) + 0.0003*math.Sin(3*mRad)

	// Ecliptic longitude and solar transit.
	eclipticLon := math.Mod(meanAnomaly+center+180+102.9372, 360)
	lRad := eclipticLon * degToRad
	jTransit := j2000 + jStar + 0.0053*math.Sin(mRad) - 0.0069*math.Sin(2*lRad)

	// Declination of the sun.
	sinDecl := math.Sin(lRad) * math.Sin(23.4397*degToRad)
	cosDecl := math.Cos(math.Asin(sinDecl))

	// Hour angle of the sun at the official zenith.
	latRad := latitude * degToRad
	cosHourAngle := (officialZenithSin - math.Sin(latRad)*sinDecl) /
		(math.Cos(latRad) * cosDecl)

	if cosHourAngle > 1 {
		return time.Time{}, time.Time{}, ErrPolarNight
	}
	if cosHourAngle < -1 {
		return time.Time{}, time.Time{}, ErrPolarDay
	}

	hourAngle := math.Acos(cosHourAngle) * radToDeg

	jRise := jTransit - hourAngle/360
	jSet := jTransit + hourAngle/360

	return julianToTime(jRise, loc), julianToTime(jSet, loc), nil
}

// EventTime returns the time of the named sun event ("sunrise" or
// "sunset") offset by the given duration, for the calendar date of t.
func EventTime(t time.Time, latitude, longitude float64, event string, offset time.Duration) (time.Time, error) {
	sunrise, sunset, err := Times(t, latitude, longitude)
	if err != nil {
		return time.Time{}, err
	}
	switch event {
	case "sunrise":
		return sunrise.Add(offset), nil
	case "sunset":
		return sunset.Add(offset), nil
	default:
		return time.Time{}, errors.New("sun: unknown event " + event)
	}
}

func julianToTime(jd float64, loc *time.Location) time.Time {
	secs := (jd - unixEpochJulian) * 86400.0
	return time.Unix(int64(secs), 0).In(loc)
}
