package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// DefaultTTL is the maximum age of an entry before Get treats it as stale.
const DefaultTTL = 5 * time.Minute

// Kind identifies which API payload an entry holds. Values are the GraphQL field names of the
// corresponding operations.
type Kind string

const (
	CarInfo  Kind = "getConsumerCarsV2"
	Odometer Kind = "getOdometerData"
	Battery  Kind = "getBatteryData"
)

// Kinds lists every Kind in display order.
var Kinds = []Kind{CarInfo, Odometer, Battery}

var kindAliases = map[string]Kind{
	"carinfo":  CarInfo,
	"car_info": CarInfo,
	"info":     CarInfo,
	"odometer": Odometer,
	"battery":  Battery,
}

// ParseKind accepts either a short name ("info", "odometer", "battery") or a GraphQL field name.
func ParseKind(name string) (Kind, error) {
	if kind, ok := kindAliases[strings.ToLower(name)]; ok {
		return kind, nil
	}
	for _, kind := range Kinds {
		if string(kind) == name {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown query kind '%s'", name)
}

// Status classifies the result of a lookup.
type Status int

const (
	// Missing means the entry was never fetched, is stale, or the path did not resolve.
	Missing Status = iota
	// Empty means the entry was fetched and the API returned no data.
	Empty
	// Found means the path resolved to a value.
	Found
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case Found:
		return "found"
	}
	return "missing"
}

// Entry is a cached API payload. A nil Data records that the API returned nothing.
type Entry struct {
	Data      interface{} `json:"data" yaml:"data"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// Table holds the latest payload of each Kind for each vehicle.
type Table struct {
	TTL time.Duration

	clock    clock.PassiveClock
	lock     sync.RWMutex
	vehicles map[string]map[Kind]Entry
}

// New returns an empty Table. A non-positive ttl selects DefaultTTL and a nil clock selects the
// system clock.
func New(ttl time.Duration, c clock.PassiveClock) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if c == nil {
		c = clock.RealClock{}
	}
	return &Table{
		TTL:      ttl,
		clock:    c,
		vehicles: make(map[string]map[Kind]Entry),
	}
}

// Put replaces the entry for (vin, kind) and stamps it with the current time.
func (t *Table) Put(vin string, kind Kind, data interface{}) {
	t.lock.Lock()
	defer t.lock.Unlock()

	entries, ok := t.vehicles[vin]
	if !ok {
		entries = make(map[Kind]Entry)
		t.vehicles[vin] = entries
	}
	entries[kind] = Entry{Data: data, Timestamp: t.clock.Now()}
}

// Entry returns the entry for (vin, kind).
func (t *Table) Entry(vin string, kind Kind) (Entry, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	entry, ok := t.vehicles[vin][kind]
	return entry, ok
}

// Get resolves path against the entry for (vin, kind). Entries older than the TTL are reported
// as Missing unless skipTTL is set.
func (t *Table) Get(vin string, kind Kind, path string, skipTTL bool) (interface{}, Status) {
	entry, ok := t.Entry(vin, kind)
	if !ok {
		return nil, Missing
	}
	if entry.Data == nil {
		return nil, Empty
	}
	if !skipTTL && t.clock.Since(entry.Timestamp) >= t.TTL {
		return nil, Missing
	}
	if value, ok := Resolve(entry.Data, path); ok {
		return value, Found
	}
	return nil, Missing
}

// Resolve looks up path in data. The path is a key or a '/'-delimited chain of keys into nested
// objects. A path that names a null value does not resolve.
func Resolve(data interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	current := data
	for _, key := range strings.Split(path, "/") {
		object, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		if current, ok = object[key]; !ok {
			return nil, false
		}
	}
	return current, current != nil
}

// VINs returns the VINs with at least one entry, sorted.
func (t *Table) VINs() []string {
	t.lock.RLock()
	defer t.lock.RUnlock()

	vins := make([]string, 0, len(t.vehicles))
	for vin := range t.vehicles {
		vins = append(vins, vin)
	}
	sort.Strings(vins)
	return vins
}

// Snapshot returns a copy of the table's entries. Payloads are shared with the table and must not
// be modified.
func (t *Table) Snapshot() map[string]map[Kind]Entry {
	t.lock.RLock()
	defer t.lock.RUnlock()

	snapshot := make(map[string]map[Kind]Entry, len(t.vehicles))
	for vin, entries := range t.vehicles {
		copied := make(map[Kind]Entry, len(entries))
		for kind, entry := range entries {
			copied[kind] = entry
		}
		snapshot[vin] = copied
	}
	return snapshot
}

// Export writes the table's entries to w as JSON.
func (t *Table) Export(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(t.Snapshot())
}

// ExportToFile writes the table's entries to disk.
func (t *Table) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	return t.Export(file)
}
