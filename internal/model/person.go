package model

import "time"

// Person holds the demographic and financial attributes returned by the
// primary data provider for a resolved CPF. Every field is optional; an
// absent field means the provider had nothing, not that the fetch failed.
type Person struct {
	Name           string     `json:"name,omitempty"`
	BirthDate      *time.Time `json:"birth_date,omitempty"`
	Sex            string     `json:"sex,omitempty"`
	Income         *float64   `json:"income,omitempty"`
	PresumedIncome *float64   `json:"presumed_income,omitempty"`
	Occupation     string     `json:"occupation,omitempty"`
	MaritalStatus  string     `json:"marital_status,omitempty"`
	Phones         []string   `json:"phones,omitempty"`
	Emails         []string   `json:"emails,omitempty"`
	Addresses      []Address  `json:"addresses,omitempty"`
}

// Address is a single postal address attached to a person.
type Address struct {
	Street       string `json:"street,omitempty"`
	Number       string `json:"number,omitempty"`
	Complement   string `json:"complement,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
	City         string `json:"city,omitempty"`
	State        string `json:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty"`
}
