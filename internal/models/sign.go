package models

import "strings"

// TrafficSign is one identification: a display name and a short meaning.
type TrafficSign struct {
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}

// Valid reports whether both fields carry text.
func (s TrafficSign) Valid() bool {
	return strings.TrimSpace(s.Name) != "" && strings.TrimSpace(s.Meaning) != ""
}

// DetailedSignInfo is the expanded regulatory record for a named sign.
type DetailedSignInfo struct {
	SignCode         string `json:"signCode"`
	DetailedMeaning  string `json:"detailedMeaning"`
	ApplicationCases string `json:"applicationCases"`
	Penalties        string `json:"penalties"`
}

// Complete reports whether every field is populated.
func (d DetailedSignInfo) Complete() bool {
	for _, v := range []string{d.SignCode, d.DetailedMeaning, d.ApplicationCases, d.Penalties} {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// SignInfo is a catalog row keyed by the detector class code (e.g. P.102).
type SignInfo struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	Meaning string `json:"meaning"`
}
