package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID         string `json:"Id" salesforce:"Id"`
	FirstName  string `json:"FirstName" salesforce:"FirstName"`
	LastName   string `json:"LastName" salesforce:"LastName"`
	Title      string `json:"Title" salesforce:"Title"`
	Company    string `json:"Company" salesforce:"Company"`
	Email      string `json:"Email" salesforce:"Email"`
	Phone      string `json:"Phone" salesforce:"Phone"`
	Website    string `json:"Website" salesforce:"Website"`
	City       string `json:"City" salesforce:"City"`
	State      string `json:"State" salesforce:"State"`
	PostalCode string `json:"PostalCode" salesforce:"PostalCode"`
	LeadSource string `json:"LeadSource" salesforce:"LeadSource"`
	Status     string `json:"Status" salesforce:"Status"`
}

// leadFields are the SOQL fields selected for Lead queries.
var leadFields = []string{
	"Id", "FirstName", "LastName", "Title", "Company",
	"Email", "Phone", "Website", "City", "State", "PostalCode",
	"LeadSource", "Status",
}

// FindLeadByEmail queries Salesforce for a Lead with the given email.
// Returns nil if no lead is found.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Email = '%s' LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(email),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by email %s", email))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// FindLeadsByCompany queries Salesforce for Leads at the given company.
func FindLeadsByCompany(ctx context.Context, c Client, company string) ([]Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Company = '%s'",
		strings.Join(leadFields, ", "),
		escapeSoql(company),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find leads by company %s", company))
	}
	return leads, nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
