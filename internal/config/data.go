package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DataFile holds the settings that are awkward to express as environment
// variables: the tenant-scoped business tables and the provider price table.
type DataFile struct {
	Tables []TableSpec       `yaml:"tables"`
	Prices map[string]Prices `yaml:"prices"`
}

// TableSpec names one business table dumped and restored per tenant. Tables
// are listed parents first; restore deletes in reverse order.
type TableSpec struct {
	Name         string `yaml:"name"`
	TenantColumn string `yaml:"tenant_column"`
}

// Prices is the cost model of one provider kind, in USD.
type Prices struct {
	StoragePerGB float64 `yaml:"storage_per_gb"`
	PerRequest   float64 `yaml:"per_request"`
}

// DefaultDataFile is used when DATA_CONFIG_FILE is not set.
func DefaultDataFile() *DataFile {
	return &DataFile{
		Tables: []TableSpec{
			{Name: "customers", TenantColumn: "tenant_id"},
			{Name: "products", TenantColumn: "tenant_id"},
			{Name: "invoices", TenantColumn: "tenant_id"},
			{Name: "invoice_items", TenantColumn: "tenant_id"},
			{Name: "payments", TenantColumn: "tenant_id"},
			{Name: "ledger_entries", TenantColumn: "tenant_id"},
		},
		Prices: map[string]Prices{
			ProviderKindS3:    {StoragePerGB: 0.023, PerRequest: 0.0000004},
			ProviderKindGCS:   {StoragePerGB: 0.020, PerRequest: 0.0000004},
			ProviderKindAzure: {StoragePerGB: 0.018, PerRequest: 0.0000005},
		},
	}
}

// LoadDataFile reads the YAML data file at path. An empty path yields the
// defaults; sections missing from the file keep their defaults.
func LoadDataFile(path string) (*DataFile, error) {
	df := DefaultDataFile()
	if path == "" {
		return df, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read data config: %w", err)
	}

	var parsed DataFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse data config: %w", err)
	}

	if len(parsed.Tables) > 0 {
		for i, t := range parsed.Tables {
			if t.Name == "" {
				return nil, fmt.Errorf("data config: table %d has no name", i)
			}
			if t.TenantColumn == "" {
				parsed.Tables[i].TenantColumn = "tenant_id"
			}
		}
		df.Tables = parsed.Tables
	}
	for kind, p := range parsed.Prices {
		df.Prices[kind] = p
	}

	return df, nil
}

// TableNames returns the configured table names in dump order.
func (d *DataFile) TableNames() []string {
	names := make([]string, len(d.Tables))
	for i, t := range d.Tables {
		names[i] = t.Name
	}
	return names
}
