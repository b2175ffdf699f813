package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndroidCoordinates(t *testing.T) {
	cases := []struct {
		in       string
		lat, lng float64
		ok       bool
	}{
		{in: "45.0°, 90.0°", lat: 45, lng: 90, ok: true},
		{in: "45.0, 90.0", lat: 45, lng: 90, ok: true},
		{in: "-33.8688°, 151.2093°", lat: -33.8688, lng: 151.2093, ok: true},
		{in: " 35.5°,  139.25° ", lat: 35.5, lng: 139.25, ok: true},
		{in: "45.0°,90.0°"},
		{in: "45.0°, 90.0°, 10.0°"},
		{in: "north, east"},
		{in: ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			lat, lng, ok := ParseAndroidCoordinates(tc.in)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.lat, lat)
				require.Equal(t, tc.lng, lng)
			}
		})
	}
}

func TestParseIPhoneGeo(t *testing.T) {
	cases := []struct {
		in       string
		lat, lng float64
		ok       bool
	}{
		{in: "geo:45.0,90.0", lat: 45, lng: 90, ok: true},
		{in: "45.0,90.0", lat: 45, lng: 90, ok: true},
		{in: "geo:35.689700, 139.700400", lat: 35.6897, lng: 139.7004, ok: true},
		{in: "geo:35.5,139.5,40", lat: 35.5, lng: 139.5, ok: true},
		{in: "GeoCoordinates: 45.0, 90.0"},
		{in: "geo:"},
		{in: "geo:45.0"},
		{in: ""},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			lat, lng, ok := ParseIPhoneGeo(tc.in)
			require.Equal(t, tc.ok, ok)
			if tc.ok {
				require.Equal(t, tc.lat, lat)
				require.Equal(t, tc.lng, lng)
			}
		})
	}
}

func TestResolveCoordinates(t *testing.T) {
	var c Candidate
	resolveCoordinates(&c, "", ParseAndroidCoordinates)
	require.Nil(t, c.Latitude)
	require.False(t, c.CoordinateMalformed)

	c = Candidate{}
	resolveCoordinates(&c, "nowhere", ParseAndroidCoordinates)
	require.Nil(t, c.Latitude)
	require.True(t, c.CoordinateMalformed)
	require.Equal(t, "nowhere", c.CoordinateText)

	c = Candidate{}
	resolveCoordinates(&c, "geo:1.5,2.5", ParseIPhoneGeo)
	require.Equal(t, 1.5, *c.Latitude)
	require.Equal(t, 2.5, *c.Longitude)
}
