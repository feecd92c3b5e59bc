package data

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// defaultSpawnMargin keeps spawn points away from the map edge.
const defaultSpawnMargin float32 = 20

// Zone holds metadata for a single enterable zone, loaded from zones.yaml.
type Zone struct {
	ID          int32   `yaml:"id"`
	Name        string  `yaml:"name"`
	SpawnMargin float32 `yaml:"spawn_margin"`
}

type zoneFile struct {
	Zones []Zone `yaml:"zones"`
}

// ZoneTable provides zone lookups for enter-zone validation.
type ZoneTable struct {
	zones map[int32]Zone
	def   int32
}

// LoadZones loads the zone table from YAML. Entries without a spawn margin
// get the default. Later entries with a duplicate id overwrite earlier ones.
func LoadZones(path string) (*ZoneTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read zone table %s: %w", path, err)
	}
	var file zoneFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse zone table: %w", err)
	}
	if len(file.Zones) == 0 {
		return nil, fmt.Errorf("zone table %s: no zones defined", path)
	}

	table := &ZoneTable{
		zones: make(map[int32]Zone, len(file.Zones)),
		def:   file.Zones[0].ID,
	}
	for _, z := range file.Zones {
		if z.SpawnMargin <= 0 {
			z.SpawnMargin = defaultSpawnMargin
		}
		table.zones[z.ID] = z
		if z.ID == 1 {
			table.def = 1
		}
	}
	return table, nil
}

// DefaultZones returns a single-zone table for running without a zones file.
func DefaultZones() *ZoneTable {
	return &ZoneTable{
		zones: map[int32]Zone{
			1: {ID: 1, Name: "overworld", SpawnMargin: defaultSpawnMargin},
		},
		def: 1,
	}
}

// Get returns the zone for id.
func (t *ZoneTable) Get(id int32) (Zone, bool) {
	z, ok := t.zones[id]
	return z, ok
}

// Valid reports whether id names a known zone.
func (t *ZoneTable) Valid(id int32) bool {
	_, ok := t.zones[id]
	return ok
}

// DefaultID returns the zone used when a client asks for an unknown one.
// Zone 1 when present, otherwise the first zone listed in the file.
func (t *ZoneTable) DefaultID() int32 {
	return t.def
}

// Count returns the number of loaded zones.
func (t *ZoneTable) Count() int {
	return len(t.zones)
}
