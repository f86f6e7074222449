package model

import "time"

// Regions maps NEM region codes to display names.
var Regions = map[string]string{
	"NSW1": "New South Wales",
	"QLD1": "Queensland",
	"VIC1": "Victoria",
	"SA1":  "South Australia",
	"TAS1": "Tasmania",
}

var regionTimezones = map[string]string{
	"NSW1": "Australia/Sydney",
	"QLD1": "Australia/Brisbane",
	"VIC1": "Australia/Melbourne",
	"SA1":  "Australia/Adelaide",
	"TAS1": "Australia/Hobart",
}

// ValidRegion reports whether code is a known NEM region.
func ValidRegion(code string) bool {
	_, ok := Regions[code]
	return ok
}

// RegionLocation resolves a NEM region code to its IANA timezone.
// Unknown regions default to Australia/Sydney; if the timezone database is
// unavailable a fixed +10:00 zone is returned so pricing never fails.
func RegionLocation(code string) *time.Location {
	name, ok := regionTimezones[code]
	if !ok {
		name = "Australia/Sydney"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("AEST", 10*3600)
	}
	return loc
}
