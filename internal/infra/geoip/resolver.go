// Package geoip maps client addresses to countries so error messages can be
// localized for callers that send no language hints.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// ErrUnavailable is returned when no database was opened.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// Resolver looks up countries in a MaxMind GeoIP2/GeoLite2 database.
type Resolver struct {
	reader *geoip2.Reader
}

// Open opens the database at path. An empty path yields a nil resolver, which
// is safe to call and always reports ErrUnavailable.
func Open(path string) (*Resolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	return &Resolver{reader: reader}, nil
}

// CountryCode returns the ISO country code for ip, "" when unknown.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.reader == nil {
		return "", ErrUnavailable
	}
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return "", nil
	}
	record, err := r.reader.Country(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	if record == nil {
		return "", nil
	}
	return strings.ToUpper(record.Country.IsoCode), nil
}

func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

// LocaleForCountry picks the message locale for an ISO country code.
func LocaleForCountry(code string) string {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "ID":
		return "id"
	default:
		return "en"
	}
}
