package middleware

import (
	"context"
	"net/http"
	"net/netip"
	"strings"

	"golang.org/x/text/language"

	"photoenhance/internal/infra/geoip"
)

type localeContextKey struct{}
type countryContextKey struct{}

var (
	LocaleKey  = localeContextKey{}
	CountryKey = countryContextKey{}
)

// Supported message locales; the first is the matcher fallback.
var supportedLocales = []language.Tag{language.English, language.Indonesian}

var localeMatcher = language.NewMatcher(supportedLocales)

// CountryLookup resolves ISO country codes for an IP address.
type CountryLookup func(ip string) (string, error)

// I18N stores the message locale and best-effort country on the context.
// A locale already set upstream (for example from a token claim) wins.
func I18N(defaultLocale string, lookup CountryLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			country := ResolveCountry(r, lookup)
			ctx := r.Context()
			if _, ok := ctx.Value(LocaleKey).(string); !ok {
				ctx = context.WithValue(ctx, LocaleKey, detectLocale(r, defaultLocale, country))
			}
			if country != "" {
				ctx = context.WithValue(ctx, CountryKey, strings.ToUpper(country))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func detectLocale(r *http.Request, fallback string, country string) string {
	if v := r.Header.Get("X-Locale"); v != "" {
		return normalizeLocale(v)
	}
	if v := parseAcceptLanguage(r.Header.Get("Accept-Language")); v != "" {
		return v
	}
	if country != "" {
		return geoip.LocaleForCountry(country)
	}
	if fallback != "" {
		return normalizeLocale(fallback)
	}
	return "en"
}

func parseAcceptLanguage(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	_, idx, _ := localeMatcher.Match(tags...)
	return baseOf(supportedLocales[idx])
}

func normalizeLocale(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return "en"
	}
	_, idx, _ := localeMatcher.Match(tag)
	return baseOf(supportedLocales[idx])
}

func baseOf(tag language.Tag) string {
	base, _ := tag.Base()
	return base.String()
}

// ClientIP returns the first parseable address in X-Forwarded-For, or the
// connection's remote host.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	for _, hop := range strings.Split(r.Header.Get("X-Forwarded-For"), ",") {
		if addr, err := netip.ParseAddr(strings.TrimSpace(hop)); err == nil {
			return addr.Unmap().String()
		}
	}
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap().String()
	}
	return r.RemoteAddr
}

func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok {
		return v
	}
	return "en"
}

func CountryFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(CountryKey).(string); ok {
		return v
	}
	return ""
}

// edge proxies that stamp the viewer country
var countryHeaders = []string{"CF-IPCountry", "X-Country-Code", "X-Appengine-Country"}

// ResolveCountry picks an ISO country for the request: a proxy header first,
// then an explicit region in X-Locale or Accept-Language, then an IP lookup.
func ResolveCountry(r *http.Request, lookup CountryLookup) string {
	if r == nil {
		return ""
	}
	for _, key := range countryHeaders {
		if v := strings.TrimSpace(r.Header.Get(key)); len(v) == 2 && !strings.EqualFold(v, "XX") {
			return strings.ToUpper(v)
		}
	}
	if region := explicitRegion(r.Header.Get("X-Locale")); region != "" {
		return region
	}
	if region := explicitRegion(r.Header.Get("Accept-Language")); region != "" {
		return region
	}
	if lookup == nil {
		return ""
	}
	ip := ClientIP(r)
	if ip == "" {
		return ""
	}
	country, err := lookup(ip)
	if err != nil {
		return ""
	}
	return strings.ToUpper(country)
}

// explicitRegion returns the region subtag of the most preferred tag in a
// locale or Accept-Language value, ignoring regions x/text would only guess.
func explicitRegion(header string) string {
	if strings.TrimSpace(header) == "" {
		return ""
	}
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return ""
	}
	region, conf := tags[0].Region()
	if conf != language.Exact {
		return ""
	}
	return region.String()
}
