package model

import "time"

// Source is a seed data source row from the source catalog.
type Source struct {
	ID                string    `json:"id" csv:"id"`
	Name              string    `json:"name" csv:"name"`
	MatchedRecords    int64     `json:"matched_records" csv:"matched_records"`
	NumberOfCustomers int64     `json:"number_of_customers" csv:"number_of_customers"`
	CreatedAt         time.Time `json:"created_at" csv:"-"`
}

// HasMatches reports whether the source can seed a lookalike calculation.
func (s Source) HasMatches() bool {
	return s.MatchedRecords > 0
}

// SizeMethod is a target audience size and expansion method option.
type SizeMethod struct {
	ID     string `json:"id" yaml:"id" mapstructure:"id"`
	Label  string `json:"label" yaml:"label" mapstructure:"label"`
	Size   int    `json:"size" yaml:"size" mapstructure:"size"`
	Method string `json:"method" yaml:"method" mapstructure:"method"`
}
