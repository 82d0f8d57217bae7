package plans

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk overrides document.
//
//	tiers:
//	  pro:
//	    maxSocialAccounts: 15
//	    hasWhiteLabel: true
//	  enterprise:
//	    dataRetentionDays: unlimited
type catalogFile struct {
	Tiers map[string]map[string]FeatureValue `yaml:"tiers"`
}

// UnmarshalYAML decodes booleans, integers, and the literal "unlimited"
func (v *FeatureValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: feature value must be a scalar", node.Line)
	}

	switch node.Tag {
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("line %d: %w", node.Line, err)
		}
		*v = Bool(b)
		return nil
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("line %d: invalid limit %q: %w", node.Line, node.Value, err)
		}
		*v = Quantity(n)
		return nil
	}

	if strings.EqualFold(node.Value, "unlimited") {
		*v = Quantity(Unlimited)
		return nil
	}
	return fmt.Errorf("line %d: unsupported feature value %q", node.Line, node.Value)
}

// ParseCatalog layers YAML overrides on top of the default catalog and
// validates the result
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	sets := defaultFeatureSets()
	for rawTier, overrides := range file.Tiers {
		tier := PlanTier(strings.ToLower(rawTier))
		if !tier.IsValid() {
			return nil, fmt.Errorf("unknown plan tier in catalog: %s", rawTier)
		}
		for rawKey, value := range overrides {
			key := FeatureKey(rawKey)
			if !key.IsKnown() {
				return nil, fmt.Errorf("unknown feature in catalog: %s", rawKey)
			}
			sets[tier][key] = value
		}
	}

	catalog := NewCatalog(sets)
	if err := catalog.Validate(); err != nil {
		return nil, err
	}
	return catalog, nil
}

// LoadCatalogFile reads catalog overrides from a YAML file.
// An empty path yields the default catalog.
func LoadCatalogFile(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return ParseCatalog(data)
}
