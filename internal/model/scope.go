package model

import "strings"

// OrganizationScope is the resolved input for one organization cycle. It is
// produced by the caller from the organization/supplier directory.
type OrganizationScope struct {
	ID          string          `json:"id" yaml:"id"`
	Name        string          `json:"name" yaml:"name"`
	City        string          `json:"city,omitempty" yaml:"city"`
	Region      string          `json:"region,omitempty" yaml:"region"`
	Country     string          `json:"country,omitempty" yaml:"country"`
	Commodities []string        `json:"commodities,omitempty" yaml:"commodities"`
	Suppliers   []SupplierScope `json:"suppliers" yaml:"suppliers"`
}

// SupplierScope is the resolved input for one supplier run.
type SupplierScope struct {
	ID             string   `json:"id" yaml:"id"`
	OrganizationID string   `json:"organization_id,omitempty" yaml:"organization_id"`
	Name           string   `json:"name" yaml:"name"`
	City           string   `json:"city,omitempty" yaml:"city"`
	Region         string   `json:"region,omitempty" yaml:"region"`
	Country        string   `json:"country,omitempty" yaml:"country"`
	Latitude       *float64 `json:"latitude,omitempty" yaml:"latitude"`
	Longitude      *float64 `json:"longitude,omitempty" yaml:"longitude"`
	Commodities    []string `json:"commodities,omitempty" yaml:"commodities"`
	TrackingIDs    []string `json:"tracking_ids,omitempty" yaml:"tracking_ids"`

	// Organization carries org-level context (name, commodities) for the
	// global-news analyzer. Not serialized with the supplier.
	Organization *OrganizationScope `json:"-" yaml:"-"`
}

// Location renders the best available location string.
func (s SupplierScope) Location() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.City, s.Region, s.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
