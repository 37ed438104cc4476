package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robert-malhotra/fieldscenes/internal/process"
)

// CollectionConfig describes a data collection that can be searched in the
// catalog and requested from the processing API. Extra definitions are loaded
// from JSON files in the collections directory.
type CollectionConfig struct {
	// ID is the catalog collection identifier, e.g. "sentinel-2-l2a".
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// DataType is the processing API input type. Defaults to ID.
	DataType string `json:"data_type,omitempty"`
	// Bands lists the band codes the evalscript may request.
	Bands []string `json:"bands"`
	// CloudCoverProperty is the item property used for cloud filtering.
	CloudCoverProperty string `json:"cloud_cover_property,omitempty"`
	// NativeResolution is the finest ground sample distance in meters.
	NativeResolution float64 `json:"native_resolution,omitempty"`
}

// HasBand reports whether the collection offers band b.
func (c *CollectionConfig) HasBand(b string) bool {
	for _, band := range c.Bands {
		if band == b {
			return true
		}
	}
	return false
}

// ProcessDataType returns the processing API input type.
func (c *CollectionConfig) ProcessDataType() string {
	if c.DataType != "" {
		return c.DataType
	}
	return c.ID
}

// CollectionRegistry holds all loaded collection configurations indexed by ID.
type CollectionRegistry struct {
	collections map[string]*CollectionConfig
}

// NewCollectionRegistry creates a new empty collection registry.
func NewCollectionRegistry() *CollectionRegistry {
	return &CollectionRegistry{
		collections: make(map[string]*CollectionConfig),
	}
}

// DefaultCollections returns a registry with the built-in Sentinel-2 collections.
func DefaultCollections() *CollectionRegistry {
	r := NewCollectionRegistry()
	s2 := []string{"B01", "B02", "B03", "B04", "B05", "B06", "B07", "B08", "B8A", "B09", "B11", "B12"}

	_ = r.Add(&CollectionConfig{
		ID:                 "sentinel-2-l2a",
		Title:              "Sentinel-2 L2A",
		Description:        "Sentinel-2 bottom-of-atmosphere reflectance",
		Bands:              append(append([]string{}, s2...), "SCL", "AOT", "WVP", "SNW", "CLD", "CLP", "CLM", "dataMask"),
		CloudCoverProperty: "eo:cloud_cover",
		NativeResolution:   10,
	})
	_ = r.Add(&CollectionConfig{
		ID:                 "sentinel-2-l1c",
		Title:              "Sentinel-2 L1C",
		Description:        "Sentinel-2 top-of-atmosphere reflectance",
		Bands:              append(append([]string{}, s2[:9]...), "B10", "B11", "B12", "CLP", "CLM", "dataMask"),
		CloudCoverProperty: "eo:cloud_cover",
		NativeResolution:   10,
	})
	return r
}

// LoadCollections loads collection definitions from JSON files in the specified
// directory into an existing registry. Only files with a .json extension are processed.
func LoadCollections(r *CollectionRegistry, collectionsDir string) error {
	info, err := os.Stat(collectionsDir)
	if err != nil {
		return fmt.Errorf("failed to access collections directory %q: %w", collectionsDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("collections path %q is not a directory", collectionsDir)
	}

	entries, err := os.ReadDir(collectionsDir)
	if err != nil {
		return fmt.Errorf("failed to read collections directory %q: %w", collectionsDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if !strings.HasSuffix(strings.ToLower(filename), ".json") {
			continue
		}

		filePath := filepath.Join(collectionsDir, filename)
		collection, err := loadCollectionFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to load collection from %q: %w", filePath, err)
		}

		// Files override built-in definitions with the same ID.
		r.collections[collection.ID] = collection
	}

	return nil
}

// loadCollectionFile loads a single collection configuration from a JSON file.
func loadCollectionFile(filePath string) (*CollectionConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var collection CollectionConfig
	if err := json.Unmarshal(data, &collection); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}

	if err := validateCollection(&collection); err != nil {
		return nil, fmt.Errorf("invalid collection configuration: %w", err)
	}

	return &collection, nil
}

// validateCollection checks that a collection configuration is valid.
func validateCollection(c *CollectionConfig) error {
	if c.ID == "" {
		return fmt.Errorf("collection ID is required")
	}

	if c.Title == "" {
		return fmt.Errorf("collection title is required")
	}

	if len(c.Bands) == 0 {
		return fmt.Errorf("collection must list at least one band")
	}

	for i, b := range c.Bands {
		if !process.ValidBandCode(b) {
			return fmt.Errorf("band[%d] %q is not a valid identifier", i, b)
		}
	}

	if c.NativeResolution < 0 {
		return fmt.Errorf("native resolution must not be negative, got %g", c.NativeResolution)
	}

	return nil
}

// Add registers a collection in the registry.
// Returns an error if a collection with the same ID already exists.
func (r *CollectionRegistry) Add(collection *CollectionConfig) error {
	if collection == nil {
		return fmt.Errorf("cannot add nil collection")
	}

	if _, exists := r.collections[collection.ID]; exists {
		return fmt.Errorf("collection with ID %q already exists", collection.ID)
	}

	r.collections[collection.ID] = collection
	return nil
}

// Get retrieves a collection by ID.
// Returns nil if the collection does not exist.
func (r *CollectionRegistry) Get(id string) *CollectionConfig {
	return r.collections[id]
}

// IDs returns all collection IDs in the registry, sorted.
func (r *CollectionRegistry) IDs() []string {
	ids := make([]string, 0, len(r.collections))
	for id := range r.collections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of collections in the registry.
func (r *CollectionRegistry) Count() int {
	return len(r.collections)
}
