// Package settings serves per-clinic queue settings from a YAML file.
//
//	default:
//	  queue_prefix: A
//	  timezone: America/Sao_Paulo
//	clinics:
//	  3f6c...:
//	    queue_prefix: PED
package settings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // clinic zones must resolve in minimal containers

	"gopkg.in/yaml.v3"
)

type Clinic struct {
	QueuePrefix string `yaml:"queue_prefix"`
	Timezone    string `yaml:"timezone"`
}

type document struct {
	Default Clinic            `yaml:"default"`
	Clinics map[string]Clinic `yaml:"clinics"`
}

type File struct {
	fallback  Clinic
	clinics   map[string]Clinic
	locations map[string]*time.Location
}

func Load(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse validates every timezone up front so a typo fails at startup
// instead of on the first enqueue.
func Parse(raw []byte) (*File, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse clinic settings: %w", err)
	}
	file := &File{
		fallback:  doc.Default,
		clinics:   map[string]Clinic{},
		locations: map[string]*time.Location{},
	}
	zones := []string{doc.Default.Timezone}
	for id, clinic := range doc.Clinics {
		file.clinics[strings.TrimSpace(id)] = clinic
		zones = append(zones, clinic.Timezone)
	}
	for _, zone := range zones {
		if zone == "" {
			continue
		}
		if _, ok := file.locations[zone]; ok {
			continue
		}
		location, err := time.LoadLocation(zone)
		if err != nil {
			return nil, fmt.Errorf("clinic settings timezone %q: %w", zone, err)
		}
		file.locations[zone] = location
	}
	return file, nil
}

func (f *File) lookup(clinicID string) Clinic {
	clinic, ok := f.clinics[clinicID]
	if !ok {
		return f.fallback
	}
	if clinic.QueuePrefix == "" {
		clinic.QueuePrefix = f.fallback.QueuePrefix
	}
	if clinic.Timezone == "" {
		clinic.Timezone = f.fallback.Timezone
	}
	return clinic
}

func (f *File) QueuePrefix(_ context.Context, clinicID string) (string, error) {
	return f.lookup(clinicID).QueuePrefix, nil
}

// Location returns nil when neither the clinic nor the default names a zone.
func (f *File) Location(_ context.Context, clinicID string) (*time.Location, error) {
	zone := f.lookup(clinicID).Timezone
	if zone == "" {
		return nil, nil
	}
	return f.locations[zone], nil
}
