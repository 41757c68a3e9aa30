// Package netinfo enriches backend and client addresses with geographic
// metadata for the admin API's route diagnostics, using the same
// geoip2-golang MaxMind reader the control plane's enrichment preview used.
package netinfo

import (
	"fmt"
	"net"
	"os"
	"sync"

	geoip2 "github.com/oschwald/geoip2-golang"
)

// Lookup is a point-in-time geo lookup result for one address.
type Lookup struct {
	City       string  `json:"city,omitempty"`
	Country    string  `json:"country,omitempty"`
	CountryISO string  `json:"country_iso,omitempty"`
	Lat        float64 `json:"lat,omitempty"`
	Lon        float64 `json:"lon,omitempty"`
	Private    bool    `json:"private"`
}

// Status reports whether a database is currently loaded.
type Status struct {
	Loaded bool   `json:"loaded"`
	Path   string `json:"path,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Directory holds a swappable GeoIP reader, guarded by a mutex since a new
// database can be uploaded through the admin API while lookups are in
// flight from request handlers.
type Directory struct {
	mu   sync.RWMutex
	db   *geoip2.Reader
	path string
}

// New returns a Directory and, when path is non-empty, loads the database
// at path; a failed load is ignored and leaves the Directory empty. An
// empty path is a valid no-op configuration (lookups degrade to unknown).
// Call Load to point it at another database later.
func New(path string) *Directory {
	d := &Directory{}
	if path != "" {
		_ = d.Load(path)
	}
	return d
}

// Load opens (or reopens) the MaxMind database at path, replacing any
// previously loaded reader.
func (d *Directory) Load(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("netinfo: open geoip database %s: %w", path, err)
	}
	d.mu.Lock()
	old := d.db
	d.db = reader
	d.path = path
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Status returns the current database state, for the admin API.
func (d *Directory) Status() Status {
	d.mu.RLock()
	path, loaded := d.path, d.db != nil
	d.mu.RUnlock()
	st := Status{Loaded: loaded, Path: path}
	if path != "" {
		if fi, err := os.Stat(path); err == nil {
			st.Size = fi.Size()
		}
	}
	return st
}

// Lookup enriches ip with city/country metadata. Private-range addresses
// never hit the database: the backend fleet is almost always on RFC1918
// space, and MaxMind has nothing useful to say about it.
func (d *Directory) Lookup(ipStr string) (Lookup, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return Lookup{}, fmt.Errorf("netinfo: invalid ip %q", ipStr)
	}
	if isPrivateIP(ip) {
		return Lookup{Private: true}, nil
	}
	d.mu.RLock()
	db := d.db
	d.mu.RUnlock()
	if db == nil {
		return Lookup{}, fmt.Errorf("netinfo: no geoip database loaded")
	}
	rec, err := db.City(ip)
	if err != nil {
		return Lookup{}, fmt.Errorf("netinfo: lookup %s: %w", ipStr, err)
	}
	return Lookup{
		City:       rec.City.Names["en"],
		Country:    rec.Country.Names["en"],
		CountryISO: rec.Country.IsoCode,
		Lat:        rec.Location.Latitude,
		Lon:        rec.Location.Longitude,
	}, nil
}

func isPrivateIP(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		case ip4[0] == 169 && ip4[1] == 254:
			return true
		}
		return false
	}
	if len(ip) >= 2 {
		if ip[0]&0xfe == 0xfc {
			return true
		}
		if ip[0] == 0xfe && ip[1]&0xc0 == 0x80 {
			return true
		}
	}
	return false
}
