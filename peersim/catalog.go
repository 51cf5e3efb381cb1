package peersim

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/scratchomised/scratchomised-sdk-go/scratchomised"
	"github.com/scratchomised/scratchomised-sdk-go/scratchomised/rest"
)

const furnitureClass = "com.eteks.sweethome3d.model.HomePieceOfFurniture"

// Catalog is the set of objects the simulator starts with.
//
//	objects:
//	  - id: kitchen-light
//	    name: Kitchen light
//	    __scratchomisedClasses: [com.eteks.sweethome3d.model.HomeLight]
//	    power: 0.5
type Catalog struct {
	Objects []rest.Object `yaml:"objects"`
}

// DefaultCatalog is a small flat with two lights, two switches and a sofa.
func DefaultCatalog() Catalog {
	light := []any{scratchomised.LightClass, furnitureClass}
	piece := []any{furnitureClass}
	return Catalog{Objects: []rest.Object{
		{"id": "light-kitchen", "name": "Kitchen light", scratchomised.ClassesKey: light, "power": 0.5, "x": 120.0, "y": 340.0},
		{"id": "light-living", "name": "Living room lamp", scratchomised.ClassesKey: light, "power": 0.8, "color": int64(0xFFFF00)},
		{"id": "switch-kitchen", "name": "Kitchen switch", scratchomised.ClassesKey: piece, "x": 80.0, "y": 300.0},
		{"id": "switch-living", "name": "Interrupteur salon", scratchomised.ClassesKey: piece},
		{"id": "sofa", "name": "Sofa", scratchomised.ClassesKey: piece, "width": 210.0, "depth": 90.0, "visible": true},
	}}
}

// LoadCatalog reads a YAML catalogue. Objects without an id get a random one.
func LoadCatalog(path string) (Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(b, &cat); err != nil {
		return Catalog{}, fmt.Errorf("decode catalog %s: %w", path, err)
	}
	for i, obj := range cat.Objects {
		if obj == nil {
			return Catalog{}, fmt.Errorf("catalog %s: object %d is empty", path, i)
		}
		if obj.ID() == "" {
			obj["id"] = uuid.NewString()
		}
	}
	return cat, nil
}
